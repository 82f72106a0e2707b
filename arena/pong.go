package arena

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	pongWinScore    = 3
	pongPaddleSpeed = 0.05
	pongPaddleHalf  = 0.1
	pongBallSpeed   = 0.02
)

// Pong moves for the discrete action space.
const (
	PongStay = 0
	PongUp   = 1
	PongDown = 2
)

func init() {
	Register("pong", newPong)
}

// pong is a two-seat rally game on a unit field. Seat 0 defends x=0,
// seat 1 defends x=1. First to pongWinScore points ends the episode.
type pong struct {
	agents  [2]string
	rng     *rand.Rand
	ballX   float64
	ballY   float64
	velX    float64
	velY    float64
	paddleY [2]float64
	scores  [2]int
	done    bool
}

func newPong(agentIDs []string, seed int64) (Environment, error) {
	if len(agentIDs) != 2 {
		return nil, fmt.Errorf("pong requires exactly 2 agents, got %d", len(agentIDs))
	}
	return &pong{
		agents: [2]string{agentIDs[0], agentIDs[1]},
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

func (p *pong) AgentIDs() []string {
	return []string{p.agents[0], p.agents[1]}
}

func (p *pong) Reset() (map[string]any, error) {
	p.paddleY = [2]float64{0.5, 0.5}
	p.scores = [2]int{0, 0}
	p.done = false
	p.serve()
	return p.observations(), nil
}

// serve recenters the ball with a random direction.
func (p *pong) serve() {
	p.ballX, p.ballY = 0.5, 0.5
	p.velX = pongBallSpeed
	if p.rng.Intn(2) == 0 {
		p.velX = -pongBallSpeed
	}
	p.velY = (p.rng.Float64() - 0.5) * pongBallSpeed
}

func (p *pong) Step(actions map[string]any) (*StepResult, error) {
	if p.done {
		return nil, errors.New("pong: step after episode finished")
	}

	for i, id := range p.agents {
		move, err := discreteMove(actions[id])
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", id, err)
		}
		switch move {
		case PongUp:
			p.paddleY[i] -= pongPaddleSpeed
		case PongDown:
			p.paddleY[i] += pongPaddleSpeed
		}
		if p.paddleY[i] < pongPaddleHalf {
			p.paddleY[i] = pongPaddleHalf
		}
		if p.paddleY[i] > 1-pongPaddleHalf {
			p.paddleY[i] = 1 - pongPaddleHalf
		}
	}

	p.ballX += p.velX
	p.ballY += p.velY
	if p.ballY <= 0 {
		p.ballY, p.velY = -p.ballY, -p.velY
	}
	if p.ballY >= 1 {
		p.ballY, p.velY = 2-p.ballY, -p.velY
	}

	rewards := map[string]float64{p.agents[0]: 0, p.agents[1]: 0}
	switch {
	case p.ballX <= 0:
		p.resolveGoal(0, rewards)
	case p.ballX >= 1:
		p.resolveGoal(1, rewards)
	}

	info := map[string]any{
		"scores": map[string]int{p.agents[0]: p.scores[0], p.agents[1]: p.scores[1]},
	}
	return &StepResult{
		Observations: p.observations(),
		Rewards:      rewards,
		Done:         p.done,
		Info:         info,
	}, nil
}

// resolveGoal handles the ball reaching defender's wall: either a
// paddle bounce or a point for the opposite seat.
func (p *pong) resolveGoal(defender int, rewards map[string]float64) {
	if diff := p.ballY - p.paddleY[defender]; diff >= -pongPaddleHalf && diff <= pongPaddleHalf {
		p.velX = -p.velX
		if defender == 0 {
			p.ballX = -p.ballX
		} else {
			p.ballX = 2 - p.ballX
		}
		return
	}

	scorer := 1 - defender
	p.scores[scorer]++
	rewards[p.agents[scorer]] = 1
	rewards[p.agents[defender]] = -1
	if p.scores[scorer] >= pongWinScore {
		p.done = true
		return
	}
	p.serve()
}

// observations are egocentric: each seat sees the ball as if defending
// x=0, so the same policy works from either side.
func (p *pong) observations() map[string]any {
	obs := make(map[string]any, 2)
	obs[p.agents[0]] = []float64{p.ballX, p.ballY, p.velX, p.velY, p.paddleY[0], p.paddleY[1]}
	obs[p.agents[1]] = []float64{1 - p.ballX, p.ballY, -p.velX, p.velY, p.paddleY[1], p.paddleY[0]}
	return obs
}

func (p *pong) ActionSpace(string) Space {
	return Discrete(3)
}

func (p *pong) ObservationSpace(string) Space {
	return Box(0, 1, 6)
}

func (p *pong) Sample(string) any {
	return p.rng.Intn(3)
}

func (p *pong) Close() error {
	return nil
}

// discreteMove coerces an agent-supplied action into a pong move.
// Agents deliver numbers in whatever type their runtime produces.
func discreteMove(v any) (int, error) {
	var move int
	switch n := v.(type) {
	case int:
		move = n
	case int64:
		move = int(n)
	case float64:
		move = int(n)
	default:
		return 0, fmt.Errorf("action %v (%T) is not a discrete move", v, v)
	}
	if move < 0 || move > 2 {
		return 0, fmt.Errorf("action %d outside discrete(3) space", move)
	}
	return move, nil
}
