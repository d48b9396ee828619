package assembler

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// thinkScanner splits a content stream into visible text and the interiors
// of <think>...</think> spans. It is incremental: state carried between
// writes covers an open span and a sentinel split across writes, so feeding
// the stream in any chunking gives the same result as feeding it at once.
type thinkScanner struct {
	visible strings.Builder
	derived strings.Builder
	inThink bool
	pending string // possible sentinel prefix held back until resolved
}

func (s *thinkScanner) write(chunk string) {
	buf := s.pending + chunk
	s.pending = ""

	for buf != "" {
		tag := openTag
		out := &s.visible
		if s.inThink {
			tag = closeTag
			out = &s.derived
		}

		if i := strings.Index(buf, tag); i >= 0 {
			out.WriteString(buf[:i])
			buf = buf[i+len(tag):]
			s.inThink = !s.inThink
			continue
		}

		n := partialSuffix(buf, tag)
		out.WriteString(buf[:len(buf)-n])
		s.pending = buf[len(buf)-n:]
		return
	}
}

// flush resolves held-back text at stream end. A dangling sentinel prefix
// is literal text of whichever side it sits on; an unterminated span keeps
// its interior as reasoning.
func (s *thinkScanner) flush() {
	if s.pending == "" {
		return
	}
	if s.inThink {
		s.derived.WriteString(s.pending)
	} else {
		s.visible.WriteString(s.pending)
	}
	s.pending = ""
}

// partialSuffix returns the length of the longest proper prefix of tag that
// buf ends with.
func partialSuffix(buf, tag string) int {
	max := len(tag) - 1
	if len(buf) < max {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}
