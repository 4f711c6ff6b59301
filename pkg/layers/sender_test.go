package layers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		state   senderState
		event   senderEvent
		next    senderState
		effects effect
	}{
		{stateAwaitData, eventFrameReadyIdle, stateIdleDIFSWait, 0},
		{stateAwaitData, eventFrameReadyBusy, stateBusyIdleWait, effectDrawSlots},
		{stateIdleDIFSWait, eventStillIdle, stateAwaitAck, effectTransmit},
		{stateIdleDIFSWait, eventBecameBusy, stateBusyIdleWait, effectDrawSlots},
		{stateBusyIdleWait, eventMediumIdle, stateBusyDIFSWait, 0},
		{stateBusyDIFSWait, eventStillIdle, stateSlotWait, 0},
		{stateBusyDIFSWait, eventBecameBusy, stateBusyIdleWait, 0},
		{stateSlotWait, eventStillIdle, stateSlotWait, effectDecrementSlot},
		{stateSlotWait, eventBecameBusy, stateBusyIdleWait, 0},
		{stateSlotWait, eventCountdownDone, stateAwaitAck, effectTransmit},
		{stateAwaitAck, eventBroadcastSent, stateAwaitData, effectResetWindow},
		{stateAwaitAck, eventAckReceived, stateAwaitData, effectResetWindow | effectDelivered},
		{stateAwaitAck, eventAckTimeout, stateBusyIdleWait, effectCountRetry | effectDoubleWindow | effectDrawSlots},
		{stateAwaitAck, eventRetriesExhausted, stateAwaitData, effectDrop | effectResetWindow},

		// events that mean nothing in a state
		{stateAwaitData, eventAckReceived, stateAwaitData, 0},
		{stateBusyIdleWait, eventStillIdle, stateBusyIdleWait, 0},
		{stateSlotWait, eventAckTimeout, stateSlotWait, 0},
		{stateAwaitAck, eventMediumIdle, stateAwaitAck, 0},
	}
	for _, tt := range tests {
		t.Run(tt.state.String()+"/"+tt.event.String(), func(t *testing.T) {
			next, effects := transition(tt.state, tt.event)
			assert.Equal(t, tt.next, next)
			assert.Equal(t, tt.effects, effects)
		})
	}
}

func TestContention_WindowBounds(t *testing.T) {
	cw := newContention(testConstants)
	assert.Equal(t, testConstants.CWMin, cw.window)

	windows := []int{}
	for range 6 {
		cw.double()
		windows = append(windows, cw.window)
	}
	assert.Equal(t, []int{6, 12, 24, 31, 31, 31}, windows)

	cw.retries = 3
	cw.reset()
	assert.Equal(t, testConstants.CWMin, cw.window)
	assert.Zero(t, cw.retries)
}

func TestContention_Draw(t *testing.T) {
	cw := newContention(testConstants)
	cw.double()

	for range 200 {
		cw.draw(true)
		assert.GreaterOrEqual(t, cw.slots, 0)
		assert.LessOrEqual(t, cw.slots, cw.window)
	}

	cw.draw(false)
	assert.Equal(t, cw.window, cw.slots)
}

// newTestSender builds a sender whose queues are the returned link's channels.
func newTestSender(t *testing.T, m *mockMedium) (*Sender, *LinkLayer) {
	t.Helper()
	l := NewLinkLayer(100, m, testConfig())
	l.SetLogger(zaptest.NewLogger(t).Sugar())
	l.Config = l.Config.withDefaults()
	l.Clock = testingclock.NewFakeClock(time.Now())
	l.outgoing = make(chan Frame, l.Config.QueueCapacity)
	l.acks = make(chan ack, l.Config.QueueCapacity)
	return newSender(l), l
}

func TestSender_BeaconCarriesLocalTime(t *testing.T) {
	fc := testingclock.NewFakePassiveClock(time.Now())
	m := newMockMedium(fc)
	s, _ := newTestSender(t, m)
	s.Config.BeaconSendLatency = 50 * time.Millisecond
	s.Context.AdvanceClockOffset(2 * time.Second)

	fc.SetTime(fc.Now().Add(3 * time.Second))
	frame := s.beacon()

	require.True(t, frame.IsBeacon())
	assert.True(t, frame.IsValid())
	assert.Equal(t, Broadcast, frame.Destination())
	assert.Equal(t, MACAddress(100), frame.Source())
	assert.Equal(t, uint16(0), frame.Sequence())

	ms, err := frame.BeaconTime()
	require.NoError(t, err)
	assert.Equal(t, int64(5050), ms)
	assert.Equal(t, 3*time.Second, s.lastBeacon)
}

func TestSender_NextFramePrefersData(t *testing.T) {
	fc := testingclock.NewFakePassiveClock(time.Now())
	m := newMockMedium(fc)
	s, l := newTestSender(t, m)
	s.Context.SetBeaconInterval(1)
	fc.SetTime(fc.Now().Add(10 * time.Second))

	data := NewFrame(MACHeader{Destination: 200, Source: 100}, []byte("x"), 1, -1)
	l.outgoing <- data

	frame, ok := s.nextFrame(context.Background())
	require.True(t, ok)
	assert.Equal(t, data, frame)

	frame, ok = s.nextFrame(context.Background())
	require.True(t, ok)
	assert.True(t, frame.IsBeacon(), "an overdue beacon is sent once the queue is empty")
}

func TestSender_NoBeaconWhenDisabled(t *testing.T) {
	fc := testingclock.NewFakePassiveClock(time.Now())
	m := newMockMedium(fc)
	s, _ := newTestSender(t, m)
	s.Context.SetBeaconInterval(0)
	fc.SetTime(fc.Now().Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := s.nextFrame(ctx)
	assert.False(t, ok)
}

func TestSender_RetriesUntilLimit(t *testing.T) {
	m := newMockMedium(nil)
	l := openTestLink(t, 100, m, testConfig())

	n, err := l.Send(200, []byte("lost"), 4)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.Eventually(t, func() bool { return l.Status() == StatusTxFailed }, 5*time.Second, time.Millisecond)

	sent := m.Transmitted()
	require.Len(t, sent, testConstants.RetryLimit+1)
	for i, frame := range sent {
		assert.True(t, frame.IsValid())
		assert.Equal(t, uint16(0), frame.Sequence())
		assert.Equal(t, i > 0, frame.Retry(), "attempt %d", i)
	}
}

func TestSender_DeliveredOnAck(t *testing.T) {
	m := newMockMedium(nil).autoAck()
	l := openTestLink(t, 100, m, testConfig())

	_, err := l.Send(200, []byte("hi"), 2)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return l.Status() == StatusTxDelivered }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, m.Count(isData))
	assert.False(t, m.Transmitted()[0].Retry())
}

func TestSender_BroadcastSkipsAck(t *testing.T) {
	m := newMockMedium(nil)
	l := openTestLink(t, 100, m, testConfig())

	_, err := l.Send(Broadcast, []byte("all"), 3)
	require.NoError(t, err)
	_, err = l.Send(Broadcast, []byte("all"), 3)
	require.NoError(t, err)

	// broadcasts never wait for an ACK
	require.Eventually(t, func() bool { return m.Count(isData) == 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(3 * testConfig().AckTimeout)
	assert.Equal(t, 2, m.Count(isData))
	for _, frame := range m.Transmitted() {
		assert.False(t, frame.Retry())
	}
	assert.Equal(t, StatusSuccess, l.Status())
}

func TestSender_WaitsForIdleMedium(t *testing.T) {
	m := newMockMedium(nil)
	m.busy.Store(true)
	l := openTestLink(t, 100, m, testConfig())

	_, err := l.Send(200, []byte("wait"), 4)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, m.Count(isData), "nothing is sent while the medium is busy")

	m.busy.Store(false)
	assert.Eventually(t, func() bool { return m.Count(isData) == 1 }, 5*time.Second, time.Millisecond)
}

func TestSender_DiscardsStaleAcks(t *testing.T) {
	m := newMockMedium(nil)
	s, l := newTestSender(t, m)
	m.busy.Store(true)

	l.acks <- ack{Source: 200, Sequence: 0}
	l.acks <- ack{Source: 200, Sequence: 0}
	l.outgoing <- dataFrame(100, 200, 0, "next")

	event, ok := s.observe(context.Background())
	require.True(t, ok)
	assert.Equal(t, eventFrameReadyBusy, event)
	assert.Empty(t, l.acks, "ACKs queued before the frame was taken cannot confirm it")
}

func TestSender_IgnoresAckFromOtherStation(t *testing.T) {
	m := newMockMedium(nil)
	s, l := newTestSender(t, m)
	s.Clock = clock.RealClock{}
	s.frame = dataFrame(100, 300, 0, "x")

	l.acks <- ack{Source: 200, Sequence: 0}
	event, ok := s.awaitAck(context.Background())
	require.True(t, ok)
	assert.Equal(t, eventAckTimeout, event)

	l.acks <- ack{Source: 300, Sequence: 0}
	event, ok = s.awaitAck(context.Background())
	require.True(t, ok)
	assert.Equal(t, eventAckReceived, event)
}

func TestSender_DuplicateAckDoesNotConfirmNextDestination(t *testing.T) {
	m := newMockMedium(nil)
	// station 200 answers every frame twice, station 300 never answers
	m.onTransmit = func(f Frame) {
		if f.Type() != MACTypeData || f.Destination() != 200 {
			return
		}
		for range 2 {
			m.rx <- NewFrame(MACHeader{Type: MACTypeACK, Sequence: f.Sequence(), Destination: f.Source(), Source: 200}, nil, 0, 0)
		}
	}
	l := openTestLink(t, 100, m, testConfig())

	_, err := l.Send(200, []byte("first"), 5)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.Status() == StatusTxDelivered }, 5*time.Second, time.Millisecond)

	_, err = l.Send(300, []byte("second"), 6)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.Status() == StatusTxFailed }, 5*time.Second, time.Millisecond)

	to300 := m.Count(func(f Frame) bool { return isData(f) && f.Destination() == 300 })
	assert.Equal(t, testConstants.RetryLimit+1, to300)
}
