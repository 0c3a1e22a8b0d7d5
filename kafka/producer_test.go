package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	iface "CoDetServer/interface"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer(t *testing.T) {
	t.Run("Test Send", func(t *testing.T) {
		sp := mocks.NewSyncProducer(t, NewConfig())
		sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var e iface.Event
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			if e.ID != "m1" || e.DedupeKey != "matched:1:1" {
				return errors.New("unexpected payload " + string(val))
			}
			return nil
		})
		p := NewProducerFrom(sp, "codet.events", nil)
		require.NoError(t, p.Send(iface.Event{ID: "m1", Kind: iface.KindMatched, DedupeKey: "matched:1:1"}))
		require.NoError(t, p.Close())
	})

	t.Run("Test Send Failure", func(t *testing.T) {
		sp := mocks.NewSyncProducer(t, NewConfig())
		boom := errors.New("broker down")
		sp.ExpectSendMessageAndFail(boom)
		p := NewProducerFrom(sp, "codet.events", nil)
		assert.ErrorIs(t, p.Send(iface.Event{ID: "a1", Kind: iface.KindAlert}), boom)
		require.NoError(t, p.Close())
	})

	t.Run("Test Publish Swallows Errors", func(t *testing.T) {
		sp := mocks.NewSyncProducer(t, NewConfig())
		sp.ExpectSendMessageAndFail(errors.New("broker down"))
		p := NewProducerFrom(sp, "codet.events", nil)
		assert.NotPanics(t, func() { p.Publish(iface.Event{ID: "a1", Kind: iface.KindAlert}) })
		require.NoError(t, p.Close())
	})
}
