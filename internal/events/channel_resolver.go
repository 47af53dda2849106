package events

// TopicResolver maps logical topics to the broker's topic names.
type TopicResolver struct {
	Message string
	User    string
}

func NewTopicResolver(messageTopic, userTopic string) TopicResolver {
	return TopicResolver{Message: messageTopic, User: userTopic}
}

// Name returns the broker topic for a logical topic.
func (r TopicResolver) Name(topic Topic) string {
	if topic == TopicMessage {
		return r.Message
	}
	return r.User
}

// Resolve returns the broker topic for an event type.
func (r TopicResolver) Resolve(t EventType) string {
	return r.Name(Route(t))
}
