package mqtt

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SuccessData describes a completed asynchronous call.
type SuccessData struct {
	// PacketID is set for publish, subscribe and unsubscribe.
	PacketID uint16
	// ReasonCodes holds SUBACK or UNSUBACK codes.
	ReasonCodes    []ReasonCode
	Properties     Properties
	SessionPresent bool
}

// FailureData describes a failed asynchronous call.
type FailureData struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Properties *Properties
	Err        error
}

func newFailureData(id uint16, err error) *FailureData {
	fd := &FailureData{PacketID: id, ReasonCode: ReasonUnspecifiedError, Err: err}

	var (
		ce *ConnectError
		pe *PublishError
		se *SubscribeError
	)
	switch {
	case errors.As(err, &ce):
		fd.ReasonCode = ce.ReasonCode
		fd.Properties = ce.Properties
	case errors.As(err, &pe):
		fd.ReasonCode = pe.ReasonCode
	case errors.As(err, &se):
		fd.ReasonCode = se.ReasonCode
	}
	return fd
}

// Token tracks one asynchronous call.
type Token struct {
	done chan struct{}
	once sync.Once

	err  error
	data *SuccessData

	onSuccess func(*SuccessData)
	onFailure func(*FailureData)
}

func newToken(co *callOptions) *Token {
	return &Token{
		done:      make(chan struct{}),
		onSuccess: co.onSuccess,
		onFailure: co.onFailure,
	}
}

// complete runs the token's callback and then finishes it. Later calls
// are ignored.
func (t *Token) complete(data *SuccessData, err error) {
	t.once.Do(func() {
		t.err = err
		t.data = data
		defer close(t.done)

		if err != nil {
			if t.onFailure != nil {
				var id uint16
				if data != nil {
					id = data.PacketID
				}
				t.onFailure(newFailureData(id, err))
			}
			return
		}
		if t.onSuccess != nil {
			t.onSuccess(data)
		}
	})
}

// Done is closed when the call has finished.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the call finishes or ctx ends.
func (t *Token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout reports whether the call finished within d.
func (t *Token) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// Error returns the failure of a finished call, nil while it is running.
func (t *Token) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Result returns the success data of a finished call.
func (t *Token) Result() *SuccessData {
	select {
	case <-t.done:
		return t.data
	default:
		return nil
	}
}

// CallOption configures one asynchronous call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout   time.Duration
	props     *Properties
	onSuccess func(*SuccessData)
	onFailure func(*FailureData)
}

// CallTimeout bounds the call. Default: 30s.
func CallTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// CallProperties sets MQTT 5 properties of a SUBSCRIBE or UNSUBSCRIBE.
func CallProperties(props *Properties) CallOption {
	return func(o *callOptions) {
		o.props = props
	}
}

// OnSuccess is called once the call succeeded.
func OnSuccess(fn func(*SuccessData)) CallOption {
	return func(o *callOptions) {
		o.onSuccess = fn
	}
}

// OnFailure is called once the call failed.
func OnFailure(fn func(*FailureData)) CallOption {
	return func(o *callOptions) {
		o.onFailure = fn
	}
}

func applyCallOptions(opts []CallOption) *callOptions {
	co := &callOptions{timeout: defaultCallTimeout}
	for _, opt := range opts {
		opt(co)
	}
	return co
}
