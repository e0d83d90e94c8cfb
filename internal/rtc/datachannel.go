package rtc

import (
	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-collab/internal/channel"
)

const ReliableDataChannel = "_reliable"

// DataChannel adapts a pion data channel to channel.Channel. Messages go out
// as text frames so browser peers receive strings.
type DataChannel struct {
	dc *webrtc.DataChannel
}

func NewDataChannel(dc *webrtc.DataChannel) *DataChannel {
	return &DataChannel{dc: dc}
}

func (c *DataChannel) IsOpen() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *DataChannel) Send(data []byte) error {
	if !c.IsOpen() {
		return channel.ErrChannelClosed
	}
	return c.dc.SendText(string(data))
}

func (c *DataChannel) Close() error {
	return c.dc.Close()
}

func (c *DataChannel) Label() string {
	return c.dc.Label()
}
