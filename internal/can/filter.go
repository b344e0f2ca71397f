package can

import "fmt"

// Filter is a kernel ingress filter: a received frame matches when
// received_id & Mask == ID & Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// BuildFilter builds the filter for an optional identifier and mask.
// It returns nil when no identifier is given. Without an explicit mask the
// filter matches all bits of the identifier's format and the EFF flag, so
// base and extended frames with the same numeric value are told apart.
func BuildFilter(id, mask *uint32, forceExtended bool) (*Filter, error) {
	if id == nil {
		if mask != nil {
			return nil, ErrMaskRequiresID
		}
		return nil, nil
	}
	canID, err := BuildIdentifier(*id, forceExtended)
	if err != nil {
		return nil, err
	}
	if mask != nil {
		return &Filter{ID: canID, Mask: *mask}, nil
	}
	m := SFFMask
	if canID&EFFFlag != 0 {
		m = EFFMask
	}
	return &Filter{ID: canID, Mask: m | EFFFlag}, nil
}

// Match reports whether a frame with the given can_id passes the filter.
func (f *Filter) Match(canID uint32) bool {
	return canID&f.Mask == f.ID&f.Mask
}

func (f *Filter) String() string {
	return fmt.Sprintf("%08X:%08X", f.ID, f.Mask)
}
