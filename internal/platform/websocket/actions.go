package websocket

import (
	"context"
	"strings"

	"github.com/habms/habms/internal/platform/dispatch"
	"github.com/habms/habms/internal/platform/session"
)

const maxTopicsPerRequest = 64

// Actions serves subscribe and unsubscribe on the request protocol.
type Actions struct {
	hub *Hub
}

func NewActions(hub *Hub) *Actions {
	return &Actions{hub: hub}
}

func (a *Actions) RegisterActions(d *dispatch.Dispatcher) {
	d.Handle(session.ActionSubscribe, a.Subscribe)
	d.Handle(session.ActionUnsubscribe, a.Unsubscribe)
}

type topicsRequest struct {
	Topics []string `json:"topics"`
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

func (a *Actions) Subscribe(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	c, topics, err := a.bind(ctx, req)
	if err != nil {
		return nil, err
	}
	return topicsResponse{Topics: a.hub.Subscribe(c, topics)}, nil
}

func (a *Actions) Unsubscribe(ctx context.Context, _ *session.Session, req *dispatch.Request) (interface{}, error) {
	c, topics, err := a.bind(ctx, req)
	if err != nil {
		return nil, err
	}
	return topicsResponse{Topics: a.hub.Unsubscribe(c, topics)}, nil
}

func (a *Actions) bind(ctx context.Context, req *dispatch.Request) (*Client, []string, error) {
	c := ClientFromContext(ctx)
	if c == nil {
		return nil, nil, dispatch.Validation("subscriptions are only available over WebSocket")
	}

	var in topicsRequest
	if err := req.Bind(&in); err != nil {
		return nil, nil, err
	}
	if len(in.Topics) == 0 {
		return nil, nil, dispatch.Validation("topics is required")
	}
	if len(in.Topics) > maxTopicsPerRequest {
		return nil, nil, dispatch.Validation("at most %d topics per request", maxTopicsPerRequest)
	}
	for i, t := range in.Topics {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, nil, dispatch.Validation("topics[%d] is empty", i)
		}
		in.Topics[i] = t
	}
	return c, in.Topics, nil
}
