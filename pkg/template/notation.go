package template

type notationMode int

const (
	modeItem notationMode = iota
	modeText
	modeHexBytes
	modeQuotedBytes
	modeComment
)

// notationState follows literal runs closely enough to know whether a
// directive lands inside an h'...' byte string. Directive output is assumed
// to be balanced and does not change the state.
type notationState struct {
	mode    notationMode
	prev    byte
	escaped bool
}

func (s notationState) inHexBytes() bool { return s.mode == modeHexBytes }

func (s notationState) afterDirective() notationState {
	s.prev = 0
	return s
}

func (s notationState) advance(lit string) notationState {
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		switch s.mode {
		case modeItem:
			switch c {
			case '"':
				s.mode = modeText
			case '\'':
				if s.prev == 'h' {
					s.mode = modeHexBytes
				} else {
					s.mode = modeQuotedBytes
				}
			case '/':
				s.mode = modeComment
			}
		case modeText, modeQuotedBytes:
			quote := byte('"')
			if s.mode == modeQuotedBytes {
				quote = '\''
			}
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == quote:
				s.mode = modeItem
			}
		case modeHexBytes:
			if c == '\'' {
				s.mode = modeItem
			}
		case modeComment:
			if c == '/' {
				s.mode = modeItem
			}
		}
		s.prev = c
	}
	return s
}
