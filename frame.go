package apns

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Frame commands and sizes of the binary interface.
const (
	commandNotification = 1
	commandError        = 8
	errorFrameSize      = 6 // command + status + identifier
	feedbackHeaderSize  = 6 // timestamp + token length
	notificationHeader  = 1 + 4 + 4 + 2
)

// notificationFrame is a single notification addressed to one device token.
type notificationFrame struct {
	ID      uint32 // sequence identifier on the current connection
	Expiry  uint32 // epoch seconds
	Token   []byte // raw device token
	Payload []byte // encoded payload
}

// Len returns the size of the frame in bytes.
func (f *notificationFrame) Len() int {
	return notificationHeader + len(f.Token) + 2 + len(f.Payload)
}

// MarshalBinary returns the wire representation of the frame.
func (f *notificationFrame) MarshalBinary() ([]byte, error) {
	if len(f.Token) > 0xffff || len(f.Payload) > 0xffff {
		return nil, fmt.Errorf("frame field too long: token %d, payload %d",
			len(f.Token), len(f.Payload))
	}
	buf := bytes.NewBuffer(make([]byte, 0, f.Len()))
	binary.Write(buf, binary.BigEndian, uint8(commandNotification))
	binary.Write(buf, binary.BigEndian, f.ID)
	binary.Write(buf, binary.BigEndian, f.Expiry)
	binary.Write(buf, binary.BigEndian, uint16(len(f.Token)))
	buf.Write(f.Token)
	binary.Write(buf, binary.BigEndian, uint16(len(f.Payload)))
	buf.Write(f.Payload)
	return buf.Bytes(), nil
}

// WriteTo writes the frame to w with a single Write call, so that a frame is
// never interleaved with anything else on the connection.
func (f *notificationFrame) WriteTo(w io.Writer) (int64, error) {
	data, err := f.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// readNotificationFrame decodes one notification frame. The gateway side of
// the protocol; used by local servers.
func readNotificationFrame(r io.Reader) (*notificationFrame, error) {
	var header [notificationHeader]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if header[0] != commandNotification {
		return nil, fmt.Errorf("unexpected command %d", header[0])
	}
	var frame = &notificationFrame{
		ID:     binary.BigEndian.Uint32(header[1:5]),
		Expiry: binary.BigEndian.Uint32(header[5:9]),
		Token:  make([]byte, binary.BigEndian.Uint16(header[9:11])),
	}
	if _, err := io.ReadFull(r, frame.Token); err != nil {
		return nil, err
	}
	var size [2]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	frame.Payload = make([]byte, binary.BigEndian.Uint16(size[:]))
	if _, err := io.ReadFull(r, frame.Payload); err != nil {
		return nil, err
	}
	return frame, nil
}

// errorFrame is the response the gateway sends before closing the connection.
type errorFrame struct {
	Command uint8
	Status  Status
	ID      uint32
}

// readErrorFrame reads and decodes an error response. Any read failure or
// garbled frame is reported as ok == false: there is no identifiable error.
func readErrorFrame(r io.Reader) (frame errorFrame, ok bool) {
	var data [errorFrameSize]byte
	if _, err := io.ReadFull(r, data[:]); err != nil {
		return frame, false
	}
	frame = errorFrame{
		Command: data[0],
		Status:  Status(data[1]),
		ID:      binary.BigEndian.Uint32(data[2:]),
	}
	if frame.Command != commandError {
		return errorFrame{}, false
	}
	return frame, true
}

// MarshalBinary returns the wire representation of the error response.
func (e errorFrame) MarshalBinary() ([]byte, error) {
	var data = make([]byte, errorFrameSize)
	data[0] = e.Command
	data[1] = uint8(e.Status)
	binary.BigEndian.PutUint32(data[2:], e.ID)
	return data, nil
}

// FeedbackRecord reports that the application was removed from the device
// with the given token at the given time.
type FeedbackRecord struct {
	Token DeviceToken
	Time  time.Time
}

// String returns the token of the record.
func (fr FeedbackRecord) String() string { return string(fr.Token) }

// readFeedbackRecord decodes one record from the feedback stream.
func readFeedbackRecord(r io.Reader) (FeedbackRecord, error) {
	var header [feedbackHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return FeedbackRecord{}, err
	}
	var token = make([]byte, binary.BigEndian.Uint16(header[4:6]))
	if len(token) == 0 {
		return FeedbackRecord{}, fmt.Errorf("feedback record without token")
	}
	if _, err := io.ReadFull(r, token); err != nil {
		return FeedbackRecord{}, err
	}
	return FeedbackRecord{
		Token: TokenFromBytes(token),
		Time:  time.Unix(int64(binary.BigEndian.Uint32(header[0:4])), 0),
	}, nil
}

// MarshalBinary returns the wire representation of the record.
func (fr FeedbackRecord) MarshalBinary() ([]byte, error) {
	token, err := fr.Token.Bytes()
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, feedbackHeaderSize+len(token)))
	binary.Write(buf, binary.BigEndian, uint32(fr.Time.Unix()))
	binary.Write(buf, binary.BigEndian, uint16(len(token)))
	buf.Write(token)
	return buf.Bytes(), nil
}
