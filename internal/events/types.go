package events

// EventType names a domain event carried through the outbox and the broker.
type EventType string

func (t EventType) String() string { return string(t) }

// Message events, scoped to a conversation
const (
	MessageSent    EventType = "MESSAGE_SENT"
	MessageUpdated EventType = "MESSAGE_UPDATED"
	MessageDeleted EventType = "MESSAGE_DELETED"
	MessageSeen    EventType = "MESSAGE_SEEN"
)

// User events, scoped to a single user
const (
	UserOnline            EventType = "USER_ONLINE"
	UserOffline           EventType = "USER_OFFLINE"
	FriendRequest         EventType = "FRIEND_REQUEST"
	FriendRequestAccepted EventType = "FRIEND_REQUEST_ACCEPTED"
)

// Call lifecycle events, delivered to one participant each
const (
	CallInitiated EventType = "CALL_INITIATED"
	CallAnswered  EventType = "CALL_ANSWERED"
	CallRejected  EventType = "CALL_REJECTED"
	CallEnded     EventType = "CALL_ENDED"
	CallMissed    EventType = "CALL_MISSED"
)

// Topic is the logical destination of an event.
type Topic int

const (
	TopicUser Topic = iota
	TopicMessage
)

func (t Topic) String() string {
	if t == TopicMessage {
		return "message"
	}
	return "user"
}

var topicByType = map[EventType]Topic{
	MessageSent:           TopicMessage,
	MessageUpdated:        TopicMessage,
	MessageDeleted:        TopicMessage,
	MessageSeen:           TopicMessage,
	UserOnline:            TopicUser,
	UserOffline:           TopicUser,
	FriendRequest:         TopicUser,
	FriendRequestAccepted: TopicUser,
	CallInitiated:         TopicUser,
	CallAnswered:          TopicUser,
	CallRejected:          TopicUser,
	CallEnded:             TopicUser,
	CallMissed:            TopicUser,
}

// Route returns the topic an event type is published to. Unregistered types
// are user scoped.
func Route(t EventType) Topic {
	if topic, ok := topicByType[t]; ok {
		return topic
	}
	return TopicUser
}

// Known reports whether t is a registered event type.
func Known(t EventType) bool {
	_, ok := topicByType[t]
	return ok
}

// TypesFor lists the registered event types routed to topic.
func TypesFor(topic Topic) []EventType {
	var out []EventType
	for t, tp := range topicByType {
		if tp == topic {
			out = append(out, t)
		}
	}
	return out
}
