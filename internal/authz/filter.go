package authz

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dropDatabas3/mandato/internal/domain/repository"
	"github.com/dropDatabas3/mandato/internal/domain/types"
)

func buildFilter(in SearchInput) (repository.SearchFilter, error) {
	f := repository.SearchFilter{
		TenantID:    strings.TrimSpace(in.TenantID),
		CreatedFrom: in.CreatedFrom,
		CreatedTo:   in.CreatedTo,
		Limit:       in.Limit,
		Offset:      in.Offset,
	}
	if f.TenantID == "" {
		return f, validationf("tenant_id is required")
	}
	if in.Protocol != "" {
		p, ok := types.ParseProtocol(in.Protocol)
		if !ok {
			return f, validationf("unsupported protocol %q", in.Protocol)
		}
		f.Protocol = p
	}
	if in.Status != "" {
		st := types.Status(strings.ToUpper(in.Status))
		if !st.IsValid() {
			return f, validationf("unknown status %q", in.Status)
		}
		f.Status = st
	}
	for _, b := range []struct {
		raw string
		dst **decimal.Decimal
		key string
	}{
		{in.MinAmount, &f.MinAmount, "min_amount"},
		{in.MaxAmount, &f.MaxAmount, "max_amount"},
	} {
		if b.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(b.raw)
		if err != nil {
			return f, validationf("%s must be a decimal", b.key)
		}
		*b.dst = &d
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MinAmount.GreaterThan(*f.MaxAmount) {
		return f, validationf("min_amount greater than max_amount")
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedFrom.After(*f.CreatedTo) {
		return f, validationf("created_from after created_to")
	}

	switch {
	case f.Limit < 0 || f.Offset < 0:
		return f, validationf("limit and offset must be non-negative")
	case f.Limit == 0:
		f.Limit = DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		f.Limit = MaxSearchLimit
	}
	return f, nil
}
