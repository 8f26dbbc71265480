package provider

import (
	"context"
	"sort"

	xerrors "OmniSwap-Agent/internal/errors"
	"OmniSwap-Agent/internal/ledger"
	"OmniSwap-Agent/internal/ledger/aptos"
	"OmniSwap-Agent/internal/ledger/ethereum"
)

// Registry 按链家族维护适配器集合。
type Registry struct {
	catalog  *ledger.Catalog
	adapters map[ledger.Family]ledger.Adapter
}

// NewRegistry 依据目录实例化各链的适配器。
func NewRegistry(ctx context.Context, catalog *ledger.Catalog) (*Registry, error) {
	adapters := make(map[ledger.Family]ledger.Adapter)
	for family, chain := range catalog.Chains {
		switch family {
		case ledger.FamilyEthereum:
			adapter, err := ethereum.NewAdapter(ctx, chain, catalog)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
					"初始化 "+family.DisplayName()+" 适配器失败")
			}
			adapters[family] = adapter
		case ledger.FamilyAptos:
			adapter, err := aptos.NewAdapter(chain, catalog)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err,
					"初始化 "+family.DisplayName()+" 适配器失败")
			}
			adapters[family] = adapter
		}
	}
	if len(adapters) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链目录未定义任何可用链")
	}
	return &Registry{catalog: catalog, adapters: adapters}, nil
}

// NewRegistryWith 用现成的适配器集合构造注册表，测试时注入桩实现。
func NewRegistryWith(catalog *ledger.Catalog, adapters map[ledger.Family]ledger.Adapter) *Registry {
	return &Registry{catalog: catalog, adapters: adapters}
}

// Catalog 返回注册表使用的链目录。
func (r *Registry) Catalog() *ledger.Catalog {
	if r == nil {
		return nil
	}
	return r.catalog
}

// Adapter 返回指定链家族的适配器。
func (r *Registry) Adapter(family ledger.Family) (ledger.Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[family]
	return adapter, ok
}

// Families 返回已注册的链家族，按字典序。
func (r *Registry) Families() []ledger.Family {
	if r == nil {
		return nil
	}
	families := make([]ledger.Family, 0, len(r.adapters))
	for family := range r.adapters {
		families = append(families, family)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

// Close 释放全部适配器。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for family, adapter := range r.adapters {
		if adapter != nil {
			adapter.Close()
		}
		delete(r.adapters, family)
	}
}
