package http

import (
	"github.com/vovakirdan/wiredm-server/internal/core"
	"github.com/vovakirdan/wiredm-server/internal/proto"
	"github.com/vovakirdan/wiredm-server/internal/store"
)

func userFromStore(u *store.User) proto.User {
	return proto.User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

func userFromSummary(u core.UserSummary) proto.User {
	return proto.User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

func usersFromSummaries(users []core.UserSummary) []proto.User {
	out := make([]proto.User, 0, len(users))
	for _, u := range users {
		out = append(out, userFromSummary(u))
	}
	return out
}

func reactionsFromViews(views []core.ReactionView) []proto.Reaction {
	out := make([]proto.Reaction, 0, len(views))
	for _, r := range views {
		out = append(out, proto.Reaction{
			User:      userFromSummary(r.User),
			Emoji:     r.Emoji,
			ReactedAt: r.ReactedAt,
		})
	}
	return out
}

func messageFromView(v *core.MessageView) proto.Message {
	return proto.Message{
		ID:             v.ID,
		ConversationID: v.ConversationID,
		SenderID:       v.SenderID,
		ReceiverID:     v.ReceiverID,
		Body:           v.Body,
		Image:          v.Image,
		Reactions:      reactionsFromViews(v.Reactions),
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
	}
}

func messagesFromViews(views []*core.MessageView) []proto.Message {
	out := make([]proto.Message, 0, len(views))
	for _, v := range views {
		out = append(out, messageFromView(v))
	}
	return out
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Name {
	case core.EventNewMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNewMessage,
			Data:  proto.NewMessageData{Message: messageFromView(event.Message)},
		}
	case core.EventDeleteMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventDeleteMessage,
			Data:  proto.DeleteMessageData{MessageID: event.MessageID},
		}
	case core.EventMessageReaction:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageReaction,
			Data: proto.ReactionsData{
				MessageID: event.MessageID,
				Reactions: reactionsFromViews(event.Reactions),
			},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: string(event.Name)}
	}
}
