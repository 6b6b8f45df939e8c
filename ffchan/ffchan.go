package ffchan

import (
	"reflect"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeoutSender pushes val into channel and keeps warning while the receiver is blocked.
// C receives true once the value is delivered.
type TimeoutSender struct {
	channel   interface{}
	val       interface{}
	groupName string
	timeout   time.Duration
	C         chan bool
}

func NewTimeoutSender(channel interface{}, val interface{}, groupName string, timeoutMs int) *TimeoutSender {
	t := &TimeoutSender{
		groupName: groupName,
		channel:   channel,
		timeout:   time.Millisecond * time.Duration(timeoutMs),
		val:       val,
		C:         make(chan bool, 1),
	}
	c := make(chan struct{})
	go func() {
		defer close(c)
		vChan := reflect.ValueOf(t.channel)
		vVal := reflect.ValueOf(t.val)
		vChan.Send(vVal)
	}()

	go func() {
		start := time.Now()
		for {
			select {
			case <-c:
				t.C <- true
				return
			case <-time.After(t.timeout):
				logrus.WithField("chan", t.groupName).
					WithField("elapse", time.Now().Sub(start)).
					Warn("Timeout on channel writing. Potential block issue.")
			}
		}
	}()

	return t
}

func NewTimeoutSenderShort(channel interface{}, val interface{}, groupName string) *TimeoutSender {
	return NewTimeoutSender(channel, val, groupName, 3000)
}
