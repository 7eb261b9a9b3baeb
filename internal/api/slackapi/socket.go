package slackapi

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// RunSocketMode receives events over a Socket Mode connection until ctx ends.
// Requests are acknowledged on receipt and handled in the background, except
// for option lookups whose answer travels in the acknowledgement.
func (r *Router) RunSocketMode(ctx context.Context, client *socketmode.Client) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				r.handleSocketEvent(ctx, client, evt)
			}
		}
	}()
	return client.RunContext(ctx)
}

func (r *Router) handleSocketEvent(ctx context.Context, client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		r.logger.Info("connecting to slack socket mode")
	case socketmode.EventTypeConnected:
		r.logger.Info("connected to slack socket mode")
	case socketmode.EventTypeConnectionError:
		r.logger.Warn("slack socket mode connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeEventsAPI:
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		ack(client, evt)
		r.Go("events_api", func(ctx context.Context) error {
			return r.HandleEventsAPI(ctx, event)
		})

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		if cb.Type == slack.InteractionTypeBlockSuggestion {
			resp, err := r.Options(ctx, cb)
			if err != nil {
				r.logger.Error("failed to answer option lookup", zap.Error(err))
			}
			ack(client, evt, resp)
			return
		}
		ack(client, evt)
		r.Go("interaction", func(ctx context.Context) error {
			return r.HandleInteraction(ctx, cb)
		})
	}
}

func ack(client *socketmode.Client, evt socketmode.Event, payload ...interface{}) {
	if evt.Request == nil {
		return
	}
	client.Ack(*evt.Request, payload...)
}
