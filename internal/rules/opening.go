package rules

import (
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Opening names the deepest ECO line matched by the UCI moves played from
// the standard start. Games from a custom position return empty strings.
func Opening(start string, uci []string) (code, title string) {
	start = strings.TrimSpace(start)
	if start != "" && start != "startpos" && repetitionKey(start) != repetitionKey(StartFEN) {
		return "", ""
	}
	g := nchess.NewGame()
	for _, mv := range uci {
		if err := g.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			break
		}
	}
	if len(g.Moves()) == 0 {
		return "", ""
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	if ecoBook == nil {
		return "", ""
	}
	if eco := ecoBook.Find(g.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}
