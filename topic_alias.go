package mqtt

import (
	"errors"
	"fmt"
)

var (
	ErrTopicAliasInvalid  = errors.New("topic alias invalid")
	ErrTopicAliasNotFound = errors.New("topic alias not found")
)

// topicAliases holds the inbound topic aliases the server set on the
// current connection. The table is reset on every disconnect.
type topicAliases struct {
	max     uint16
	inbound map[uint16]string
}

func newTopicAliases(maxAlias uint16) *topicAliases {
	return &topicAliases{
		max:     maxAlias,
		inbound: make(map[uint16]string),
	}
}

func (a *topicAliases) set(alias uint16, topic string) error {
	if alias == 0 || alias > a.max {
		return ErrTopicAliasInvalid
	}
	a.inbound[alias] = topic
	return nil
}

func (a *topicAliases) get(alias uint16) (string, error) {
	if alias == 0 || alias > a.max {
		return "", ErrTopicAliasInvalid
	}
	topic, ok := a.inbound[alias]
	if !ok {
		return "", ErrTopicAliasNotFound
	}
	return topic, nil
}

func (a *topicAliases) reset() {
	clear(a.inbound)
}

// resolveTopic returns the topic of an inbound PUBLISH, applying a v5
// topic alias. An invalid alias is a protocol error: the client sends
// DISCONNECT and drops the connection.
func (r *Registry) resolveTopic(s *Session, p *PublishPacket) (string, bool) {
	if s.version != ProtocolV50 || !p.Props.Has(PropTopicAlias) {
		return p.Topic, true
	}

	alias := p.Props.GetUint16(PropTopicAlias)
	var (
		topic string
		err   error
	)
	if p.Topic != "" {
		topic, err = p.Topic, s.aliases.set(alias, p.Topic)
	} else {
		topic, err = s.aliases.get(alias)
	}
	if err == nil {
		return topic, true
	}

	r.logger.Warn("invalid topic alias", s.logFields().
		With(LogFieldTopic, p.Topic).
		With(LogFieldError, err.Error()))
	r.sendPacket(s, &DisconnectPacket{ReasonCode: ReasonTopicAliasInvalid})
	r.closeSession(s, fmt.Errorf("%w: %w", ErrProtocolError, err))
	return "", false
}
