package delta

// This file walks a previously produced delta buffer and enumerates
// only its insert-literal payload regions, so that an Index can
// observe logical source bytes instead of delta control bytes —
// mirroring bzrlib's create_delta_index_from_delta. It shares the
// opcode layout that decode.go parses.

// region is a byte span within a delta buffer holding insert-literal
// payload bytes.
type region struct {
	offset int
	length int
}

// insertRegions returns the insert-literal spans of delta, in the
// order they appear. The header's declared source/target sizes are
// skipped and otherwise ignored.
func insertRegions(delta []byte) ([]region, error) {
	if len(delta) < DeltaSizeMin {
		return nil, ErrSourceBad
	}
	full := delta
	_, n, err := uvarint(delta)
	if err != nil {
		return nil, err
	}
	delta = delta[n:]
	_, n, err = uvarint(delta)
	if err != nil {
		return nil, err
	}
	delta = delta[n:]
	headerLen := len(full) - len(delta)

	var regions []region
	cursor := 0
	for cursor < len(delta) {
		cmd := delta[cursor]
		cursor++
		switch {
		case cmd&0x80 != 0:
			for _, bit := range [7]byte{0x01, 0x02, 0x04, 0x08, 0x10, 0x20, 0x40} {
				if cmd&bit != 0 {
					if cursor >= len(delta) {
						return nil, ErrSourceBad
					}
					cursor++
				}
			}
		case cmd == 0:
			return nil, ErrSourceBad
		default:
			n := int(cmd)
			if cursor+n > len(delta) {
				return nil, ErrSourceBad
			}
			regions = append(regions, region{offset: headerLen + cursor, length: n})
			cursor += n
		}
	}
	return regions, nil
}
