package mqtt

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// ErrNotFound is returned by Store.Get for a missing key.
var ErrNotFound = errors.New("key not found")

// ErrStoreNotOpen is returned by stores used before Open or after Close.
var ErrStoreNotOpen = errors.New("store not open")

// Store persists in-flight messages so a session with CleanSession=false
// survives a process restart. Keys are "s-<id>" for a sent QoS>0 PUBLISH,
// "sc-<id>" for a sent PUBREL and "r-<id>" for a received QoS 2 PUBLISH.
// Values are encoded MQTT packets.
type Store interface {
	Open(clientID, serverURI string) error
	Close() error
	// Put stores the concatenation of bufs under key.
	Put(key string, bufs ...[]byte) error
	Get(key string) ([]byte, error)
	Remove(key string) error
	Keys() ([]string, error)
	Clear() error
}

const (
	keySent        = "s-"
	keySentRelease = "sc-"
	keyReceived    = "r-"
)

func storeKey(prefix string, id uint16) string {
	return prefix + strconv.Itoa(int(id))
}

// parseStoreKey splits a key into its prefix and packet id.
func parseStoreKey(key string) (string, uint16, bool) {
	for _, prefix := range []string{keySentRelease, keySent, keyReceived} {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(rest, 10, 16)
		if err != nil || id == 0 {
			return "", 0, false
		}
		return prefix, uint16(id), true
	}
	return "", 0, false
}

// MemoryStore keeps persisted packets in memory. It survives reconnects
// of one client instance but not a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	opened bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Open(_, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

func (m *MemoryStore) Put(key string, bufs ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return ErrStoreNotOpen
	}
	m.data[key] = bytes.Join(bufs, nil)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.opened {
		return nil, ErrStoreNotOpen
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return ErrStoreNotOpen
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.opened {
		return nil, ErrStoreNotOpen
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return ErrStoreNotOpen
	}
	clear(m.data)
	return nil
}

func (r *Registry) persistOutbound(s *Session, id uint16, header, payload []byte) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Put(storeKey(keySent, id), header, payload); err != nil {
		return fmt.Errorf("persist message %d: %w", id, err)
	}
	return nil
}

func (r *Registry) persistPubrel(s *Session, id uint16) {
	if s.store == nil {
		return
	}
	data, err := EncodePacket(newPubrel(id, ReasonSuccess), s.version)
	if err == nil {
		err = s.store.Put(storeKey(keySentRelease, id), data)
	}
	if err != nil {
		r.storeFailed(s, id, err)
	}
}

func (r *Registry) persistInbound(s *Session, p *PublishPacket) {
	if s.store == nil {
		return
	}
	data, err := EncodePacket(p, s.version)
	if err == nil {
		err = s.store.Put(storeKey(keyReceived, p.PacketID), data)
	}
	if err != nil {
		r.storeFailed(s, p.PacketID, err)
	}
}

func (r *Registry) unpersistOutbound(s *Session, id uint16) {
	if s.store == nil {
		return
	}
	for _, key := range []string{storeKey(keySent, id), storeKey(keySentRelease, id)} {
		if err := s.store.Remove(key); err != nil && !errors.Is(err, ErrNotFound) {
			r.storeFailed(s, id, err)
		}
	}
}

func (r *Registry) unpersistInbound(s *Session, id uint16) {
	if s.store == nil {
		return
	}
	if err := s.store.Remove(storeKey(keyReceived, id)); err != nil && !errors.Is(err, ErrNotFound) {
		r.storeFailed(s, id, err)
	}
}

func (r *Registry) storeFailed(s *Session, id uint16, err error) {
	r.logger.Error("persistence failed", s.logFields().
		With(LogFieldPacketID, id).
		With(LogFieldError, err.Error()))
}

// restore rebuilds both in-flight lists from the store. Outbound records
// are resent on the next connect. Unreadable entries are removed.
func (r *Registry) restore(s *Session) error {
	keys, err := s.store.Keys()
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}

	type entry struct {
		prefix string
		id     uint16
		key    string
	}
	entries := make([]entry, 0, len(keys))
	for _, key := range keys {
		prefix, id, ok := parseStoreKey(key)
		if !ok {
			r.logger.Warn("ignoring unknown store key", s.logFields().With("key", key))
			continue
		}
		entries = append(entries, entry{prefix: prefix, id: id, key: key})
	}
	// PUBLISH entries before their PUBREL state, each kind in id order.
	slices.SortFunc(entries, func(a, b entry) int {
		if a.prefix != b.prefix {
			return strings.Compare(a.prefix, b.prefix)
		}
		return int(a.id) - int(b.id)
	})

	now := r.now()
	restored := 0
	for _, e := range entries {
		pkt, err := r.loadPacket(s, e.key)
		if err != nil {
			r.logger.Warn("dropping unreadable store entry", s.logFields().
				With("key", e.key).
				With(LogFieldError, err.Error()))
			_ = s.store.Remove(e.key)
			continue
		}

		switch p := pkt.(type) {
		case *PublishPacket:
			if e.prefix == keyReceived {
				s.inbound.add(&inflight{
					id:      p.PacketID,
					qos:     QoS2,
					retain:  p.Retain,
					version: s.version,
					pub:     newPublication(p.Topic, p.Payload),
					next:    PacketPUBREL,
					touched: now,
					props:   p.Props,
					msg:     p.ToMessage(),
				})
				continue
			}
			m := &inflight{
				id:      p.PacketID,
				qos:     p.QoS,
				retain:  p.Retain,
				version: s.version,
				pub:     newPublication(p.Topic, p.Payload),
				next:    PacketPUBACK,
				touched: now,
				props:   p.Props,
			}
			if p.QoS == QoS2 {
				m.next = PacketPUBREC
			}
			s.outbound.add(m)
			restored++
		case *PubrelPacket:
			if m := s.outbound.get(p.PacketID); m != nil {
				m.next = PacketPUBCOMP
				continue
			}
			s.outbound.add(&inflight{
				id:      p.PacketID,
				qos:     QoS2,
				version: s.version,
				next:    PacketPUBCOMP,
				touched: now,
			})
			restored++
		}
	}

	r.metrics.inflight(float64(restored))
	r.logger.Info("session restored", s.logFields().
		With("outbound", s.outbound.len()).
		With("inbound", s.inbound.len()))
	return nil
}

func (r *Registry) loadPacket(s *Session, key string) (Packet, error) {
	data, err := s.store.Get(key)
	if err != nil {
		return nil, err
	}
	return ReadPacket(bytes.NewReader(data), s.version, 0)
}
