package routingtable

import "github.com/rmacdonaldsmith/meshroute/pkg/routingtable"

// topicLevels splits a published topic into levels. ends[i] is the offset one
// past the last byte of level i+1.
type topicLevels struct {
	ends []int

	// dollar is set when the first level starts with '$'; such topics never
	// match a pattern whose first level is a wildcard.
	dollar bool

	// wild is set when the topic itself contains '+' or '#' and so cannot be
	// matched against wildcard patterns.
	wild bool
}

func splitTopic(topic []byte, dst []int) topicLevels {
	lv := topicLevels{ends: dst[:0], dollar: len(topic) > 0 && topic[0] == '$'}
	for i, c := range topic {
		switch c {
		case '/':
			lv.ends = append(lv.ends, i)
		case '+', '#':
			lv.wild = true
		}
	}
	lv.ends = append(lv.ends, len(topic))
	return lv
}

// normalizeTopic rewrites topic into the instance of p it would match: levels
// listed in p.PlusLevels become "+" and, for a trailing multi-level wildcard,
// every level past p.Len collapses into "#". It reports false when the topic
// cannot match p regardless of filter content.
func normalizeTopic(topic []byte, lv topicLevels, p *routingtable.Pattern, dst []byte) ([]byte, bool) {
	n := len(lv.ends)
	plen := int(p.Len)
	if lv.wild {
		return dst, false
	}
	if p.HashLevel == 0 {
		if n != plen {
			return dst, false
		}
	} else if n < plen {
		return dst, false
	}
	if lv.dollar && (p.HashLevel == 1 || (len(p.PlusLevels) > 0 && p.PlusLevels[0] == 1)) {
		return dst, false
	}

	start, pi := 0, 0
	for lvl := 1; lvl <= plen; lvl++ {
		end := lv.ends[lvl-1]
		if lvl > 1 {
			dst = append(dst, '/')
		}
		if pi < len(p.PlusLevels) && int(p.PlusLevels[pi]) == lvl {
			dst = append(dst, '+')
			pi++
		} else {
			dst = append(dst, topic[start:end]...)
		}
		start = end + 1
	}
	if p.HashLevel != 0 {
		if plen > 0 {
			dst = append(dst, '/')
		}
		dst = append(dst, '#')
	}
	return dst, true
}
