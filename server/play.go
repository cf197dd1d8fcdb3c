package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"kuhn-arena/server/agent"
	"kuhn-arena/server/engine"
	"kuhn-arena/server/metrics"
)

// humanActor labels the person sitting in the first seat of /api/play.
const humanActor engine.Actor = "human"

// playReq is one step of a hand against the bot. The server keeps no state:
// the client sends back the cards and the full history every time.
type playReq struct {
	Card    string   `json:"card"`     // human card; dealt when empty
	BotCard string   `json:"bot_card"` // echoed from the previous reply
	History []string `json:"history"`
	Source  string   `json:"source"` // trained (default) | cfr
}

type playResp struct {
	HandID   string             `json:"hand_id"`
	Cards    map[string]string  `json:"cards"`
	History  []engine.Action    `json:"history"`
	Bot      *agent.ActionOut   `json:"bot,omitempty"`
	Next     *agent.Observation `json:"next,omitempty"`
	Terminal bool               `json:"terminal"`
	Outcome  *engine.Outcome    `json:"outcome,omitempty"`
	Payoff   int                `json:"payoff"` // chips won by the human
}

// handlePlay lets a person play one hand in the first seat against the bot.
// Every action in the history is checked against the observation of the seat
// that made it; when the bot is next to act it moves before the reply.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	human, bot, err := s.dealPlay(req.Card, req.BotCard)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := "play-" + middleware.GetReqID(r.Context())

	var hist []engine.Action
	for _, raw := range req.History {
		pos, err := engine.NextToAct(hist)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		actor, card := humanActor, human
		if pos == engine.Second {
			actor, card = engine.Equilibrium, bot
		}
		obs, err := agent.BuildObservation(id, actor, card, pos, hist)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		act, err := agent.Validate(obs, agent.ActionOut{Action: raw})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hist = append(hist, act)
	}

	resp := playResp{
		HandID: id,
		Cards:  map[string]string{string(humanActor): human.String(), "bot": bot.String()},
	}
	if pos, err := engine.NextToAct(hist); err == nil && pos == engine.Second {
		obs, err := agent.BuildObservation(id, engine.Equilibrium, bot, engine.Second, hist)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out, err := s.botAction(obs, bot, req.Source)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		act, err := agent.Validate(obs, out)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hist = append(hist, act)
		resp.Bot = &out
	}
	resp.History = hist
	if resp.History == nil {
		resp.History = []engine.Action{}
	}

	if engine.IsTerminal(hist) {
		o, err := engine.Resolve(hist, human, bot)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Terminal, resp.Outcome = true, &o
		resp.Payoff = -o.Stake
		if o.Winner == engine.First {
			resp.Payoff = o.Stake
		}
	} else {
		obs, err := agent.BuildObservation(id, humanActor, human, engine.First, hist)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Next = &obs
	}
	writeJSON(w, resp)
}

// dealPlay parses the cards the client sent and deals whatever is missing.
func (s *Server) dealPlay(humanRaw, botRaw string) (human, bot engine.Card, err error) {
	if humanRaw != "" {
		if human, err = engine.ParseCard(humanRaw); err != nil {
			return 0, 0, err
		}
	}
	if botRaw != "" {
		if bot, err = engine.ParseCard(botRaw); err != nil {
			return 0, 0, err
		}
	}
	if human != 0 && human == bot {
		return 0, 0, fmt.Errorf("%w: both players hold %s", engine.ErrInvalidCard, human)
	}

	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	if human == 0 && bot == 0 {
		human, bot = engine.Deal(s.rng)
		return human, bot, nil
	}
	rest := make([]engine.Card, 0, 2)
	for _, c := range engine.Deck {
		if c != human && c != bot {
			rest = append(rest, c)
		}
	}
	if human == 0 {
		human = rest[s.rng.Intn(len(rest))]
	}
	if bot == 0 {
		bot = rest[s.rng.Intn(len(rest))]
	}
	return human, bot, nil
}

// botAction draws the bot's move from the trained strategy table, falling
// back to an even split for unseen information sets, or from the equilibrium
// policy when source is "cfr".
func (s *Server) botAction(obs agent.Observation, card engine.Card, source string) (agent.ActionOut, error) {
	var pass float64
	var comment string
	switch source {
	case "", "trained":
		pair, ok := s.metrics.Latest()[obs.InfoSet]
		if !ok {
			pair = metrics.DefaultStrategy
		}
		pass = pair[0]
		if ok {
			comment = "trained strategy at " + obs.InfoSet
		} else {
			comment = "no trained strategy at " + obs.InfoSet + ", even split"
		}
	case "cfr":
		pass = 1 - s.eq.BetProbability(card, obs.Point)
		comment = fmt.Sprintf("equilibrium policy at %s", obs.Point)
	default:
		return agent.ActionOut{}, fmt.Errorf("unknown source %q (trained|cfr)", source)
	}

	s.rngMu.Lock()
	draw := s.rng.Float64()
	s.rngMu.Unlock()
	act := engine.Bet
	if draw < pass {
		act = engine.Pass
	}
	return agent.ActionOut{
		Action:  string(act),
		Policy:  map[string]float64{string(engine.Pass): pass, string(engine.Bet): 1 - pass},
		Comment: comment,
	}, nil
}
