package mqtt

import "fmt"

// Will is the Last Will and Testament the server publishes when the
// connection drops without a DISCONNECT.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// MQTT 5 only.
	// DelayInterval makes the server wait this many seconds before
	// publishing, cancelled if the client reconnects in time.
	DelayInterval   uint32
	PayloadFormat   byte
	MessageExpiry   uint32
	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
	UserProperties  []StringPair
}

// properties builds the will properties of CONNECT.
func (w *Will) properties() Properties {
	var props Properties

	if w.DelayInterval > 0 {
		props.Set(PropWillDelayInterval, w.DelayInterval)
	}
	if w.PayloadFormat > 0 {
		props.Set(PropPayloadFormatIndicator, w.PayloadFormat)
	}
	if w.MessageExpiry > 0 {
		props.Set(PropMessageExpiryInterval, w.MessageExpiry)
	}
	if w.ContentType != "" {
		props.Set(PropContentType, w.ContentType)
	}
	if w.ResponseTopic != "" {
		props.Set(PropResponseTopic, w.ResponseTopic)
	}
	if len(w.CorrelationData) > 0 {
		props.Set(PropCorrelationData, w.CorrelationData)
	}
	for _, up := range w.UserProperties {
		props.Add(PropUserProperty, up)
	}

	return props
}

func (w *Will) validate() error {
	if err := ValidateTopicName(w.Topic); err != nil {
		return fmt.Errorf("will: %w", err)
	}
	if w.QoS > QoS2 {
		return ErrInvalidQoS
	}
	return nil
}

// apply copies the will into CONNECT. Properties are dropped below MQTT 5.
func (w *Will) apply(pkt *ConnectPacket, v ProtocolVersion) {
	pkt.WillFlag = true
	pkt.WillTopic = w.Topic
	pkt.WillPayload = w.Payload
	pkt.WillQoS = w.QoS
	pkt.WillRetain = w.Retain
	if v == ProtocolV50 {
		pkt.WillProps = w.properties()
	}
}
