package mqtt

import (
	"errors"
	"io"
)

const (
	connectFlagCleanStart   = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
	ErrClientIDTooLong        = errors.New("client identifier longer than 23 bytes is not allowed for MQTT 3.1")
)

// ConnectPacket is the CONNECT packet. The protocol name and level written
// on the wire follow the version passed to Encode; Decode records the level
// it found in Version.
type ConnectPacket struct {
	Version    ProtocolVersion
	ClientID   string
	CleanStart bool
	KeepAlive  uint16
	Props      Properties

	Username string
	// Password is sent whenever it is non-nil, so an empty password is
	// distinguishable from none.
	Password []byte

	WillFlag    bool
	WillRetain  bool
	WillQoS     byte
	WillTopic   string
	WillPayload []byte
	WillProps   Properties
}

func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

func (p *ConnectPacket) flags() byte {
	var flags byte
	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.WillFlag {
		flags |= connectFlagWillFlag
		flags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}
	if p.Password != nil {
		flags |= connectFlagPasswordFlag
	}
	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}
	return flags
}

func (p *ConnectPacket) setFlags(flags byte) error {
	if flags&0x01 != 0 {
		return ErrInvalidConnectFlags
	}

	p.CleanStart = flags&connectFlagCleanStart != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = (flags >> 3) & 0x03
	p.WillRetain = flags&connectFlagWillRetain != 0

	if p.WillQoS > 2 || (!p.WillFlag && (p.WillQoS != 0 || p.WillRetain)) {
		return ErrInvalidConnectFlags
	}
	return nil
}

func (p *ConnectPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	if !v.Valid() {
		return 0, ErrInvalidProtocolVersion
	}
	if v == ProtocolV31 && len(p.ClientID) > 23 {
		return 0, ErrClientIDTooLong
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var e encoder
	e.string(v.protocolName())
	e.byte(byte(v))
	e.byte(p.flags())
	e.uint16(p.KeepAlive)
	e.props(&p.Props, v)
	e.string(p.ClientID)

	if p.WillFlag {
		e.props(&p.WillProps, v)
		e.string(p.WillTopic)
		e.binary(p.WillPayload)
	}
	if p.Username != "" {
		e.string(p.Username)
	}
	if p.Password != nil {
		e.binary(p.Password)
	}

	return e.flush(w, PacketCONNECT, 0x00)
}

func (p *ConnectPacket) Decode(r io.Reader, _ FixedHeader, _ ProtocolVersion) (int, error) {
	d := decoder{r: r}

	name := d.string()
	level := ProtocolVersion(d.byte())
	if d.err != nil {
		return d.result()
	}
	if !level.Valid() {
		return d.n, ErrInvalidProtocolVersion
	}
	if name != level.protocolName() {
		return d.n, ErrInvalidProtocolName
	}
	p.Version = level

	flags := d.byte()
	if d.err != nil {
		return d.result()
	}
	if err := p.setFlags(flags); err != nil {
		return d.n, err
	}

	p.KeepAlive = d.uint16()
	d.props(&p.Props, level)
	p.ClientID = d.string()

	if p.WillFlag {
		d.props(&p.WillProps, level)
		p.WillTopic = d.string()
		p.WillPayload = d.binary()
	}
	if flags&connectFlagUsernameFlag != 0 {
		p.Username = d.string()
	}
	if flags&connectFlagPasswordFlag != 0 {
		p.Password = d.binary()
		if p.Password == nil {
			p.Password = []byte{}
		}
	}

	return d.result()
}

func (p *ConnectPacket) Validate() error {
	if p.WillFlag {
		if p.WillQoS > 2 {
			return ErrInvalidQoS
		}
		if err := ValidateTopicName(p.WillTopic); err != nil {
			return err
		}
	}
	return nil
}
