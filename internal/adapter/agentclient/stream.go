package agentclient

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// ErrNoFinalMessage is returned when the stream ends without done or error.
var ErrNoFinalMessage = errors.New("agent stream ended without a done event")

// AgentError is an error reported by the agent itself, either as an error
// event or as a non-OK HTTP status.
type AgentError struct {
	Ref     string `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s error %s: %s", e.Ref, e.Code, e.Message)
}

// frame is one event of the answer stream.
type frame struct {
	name string
	data []string
}

func (f frame) empty() bool { return f.name == "" && len(f.data) == 0 }

// answer accumulates an expert's streamed reply.
type answer struct {
	ref     string
	partial strings.Builder
	resp    domain.ExpertResponse
	done    bool
}

// apply folds one frame into the answer. Unknown frame names are ignored.
func (a *answer) apply(f frame) error {
	data := []byte(strings.Join(f.data, "\n"))
	switch f.name {
	case "delta":
		var delta struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &delta); err != nil {
			return fmt.Errorf("expert %s sent a malformed delta: %w", a.ref, err)
		}
		a.partial.WriteString(delta.Text)
	case "done":
		var done struct {
			FinalMessage string          `json:"final_message"`
			Usage        json.RawMessage `json:"usage,omitempty"`
		}
		if err := json.Unmarshal(data, &done); err != nil {
			return fmt.Errorf("expert %s sent a malformed done event: %w", a.ref, err)
		}
		a.resp.Content = done.FinalMessage
		a.resp.Usage = done.Usage
		a.done = true
	case "error":
		agentErr := &AgentError{Ref: a.ref}
		if err := json.Unmarshal(data, agentErr); err != nil {
			return fmt.Errorf("expert %s sent a malformed error event: %w", a.ref, err)
		}
		return agentErr
	}
	return nil
}

// result returns the final message, falling back to the accumulated deltas
// when done carried none.
func (a *answer) result() (domain.ExpertResponse, error) {
	if !a.done {
		return domain.ExpertResponse{}, ErrNoFinalMessage
	}
	if a.resp.Content == "" {
		a.resp.Content = a.partial.String()
	}
	return a.resp, nil
}

// readAnswer reads an answer stream until done, an error event or EOF.
// Frames after done are not read.
func readAnswer(ref string, r io.Reader) (domain.ExpertResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	a := &answer{ref: ref}
	var cur frame
	flush := func() error {
		if cur.empty() {
			return nil
		}
		err := a.apply(cur)
		cur = frame{}
		return err
	}

	for !a.done && scanner.Scan() {
		line := scanner.Text()
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch {
		case line == "":
			if err := flush(); err != nil {
				return domain.ExpertResponse{}, err
			}
		case field == "event":
			cur.name = strings.TrimSpace(value)
		case field == "data":
			cur.data = append(cur.data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.ExpertResponse{}, fmt.Errorf("expert %s stream broken: %w", ref, err)
	}
	if !a.done {
		if err := flush(); err != nil {
			return domain.ExpertResponse{}, err
		}
	}
	return a.result()
}
