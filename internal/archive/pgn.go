package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/session"
)

// ResultToken maps a winner to the PGN result string; "*" while undecided.
func ResultToken(w session.Winner) string {
	switch w {
	case session.WinnerWhite:
		return "1-0"
	case session.WinnerBlack:
		return "0-1"
	case session.WinnerDraw:
		return "1/2-1/2"
	}
	return "*"
}

// TimeControl renders the clock settings as "minutes+increment".
func TimeControl(c session.Clock) string {
	return fmt.Sprintf("%d+%d", c.TimeControlMinutes, c.IncrementSeconds)
}

// BuildPGN renders the session with standard headers and numbered SAN.
func BuildPGN(s *session.Session) string {
	if s == nil {
		return ""
	}
	result := ResultToken(s.Winner)
	date := s.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	white, black := seat(s.White), seat(s.Black)

	var b strings.Builder
	b.WriteString("[Event \"Arena\"]\n")
	b.WriteString("[Site \"cheese-arena\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitize(displayName(white)))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitize(displayName(black)))
	fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", TimeControl(s.Clock))
	if code, title := Opening(s); code != "" {
		fmt.Fprintf(&b, "[ECO \"%s\"]\n", code)
		fmt.Fprintf(&b, "[Opening \"%s\"]\n", sanitize(title))
	}
	if s.WinReason != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitize(string(s.WinReason)))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	for i := 0; i < len(s.Moves); i += 2 {
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(s.Moves[i].Notation))
		if i+1 < len(s.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(s.Moves[i+1].Notation))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

// Opening resolves the ECO code and name of the line the game followed.
func Opening(s *session.Session) (code, title string) {
	uci := make([]string, 0, len(s.Moves))
	for _, m := range s.Moves {
		if m.UCI == "" {
			break
		}
		uci = append(uci, m.UCI)
	}
	return rules.Opening(s.StartPosition, uci)
}

func displayName(p session.PlayerRef) string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.ID
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
