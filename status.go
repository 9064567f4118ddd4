package apns

import "strconv"

// Status is the status code of an error response frame.
type Status uint8

// Status codes defined by Apple for the binary interface.
const (
	StatusNoErrors           Status = 0
	StatusProcessingError    Status = 1
	StatusMissingDeviceToken Status = 2
	StatusMissingTopic       Status = 3
	StatusMissingPayload     Status = 4
	StatusInvalidTokenSize   Status = 5
	StatusInvalidTopicSize   Status = 6
	StatusInvalidPayloadSize Status = 7
	StatusInvalidToken       Status = 8
	StatusShutdown           Status = 10
	StatusUnknown            Status = 255
)

var statusNames = map[Status]string{
	StatusNoErrors:           "no errors encountered",
	StatusProcessingError:    "processing error",
	StatusMissingDeviceToken: "missing device token",
	StatusMissingTopic:       "missing topic",
	StatusMissingPayload:     "missing payload",
	StatusInvalidTokenSize:   "invalid token size",
	StatusInvalidTopicSize:   "invalid topic size",
	StatusInvalidPayloadSize: "invalid payload size",
	StatusInvalidToken:       "invalid token",
	StatusShutdown:           "shutdown",
	StatusUnknown:            "unknown",
}

// String returns the description of the status code.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status " + strconv.Itoa(int(s))
}

// IsToken returns true if the status is caused by the device token.
func (s Status) IsToken() bool {
	switch s {
	case StatusMissingDeviceToken, StatusInvalidTokenSize, StatusInvalidToken:
		return true
	}
	return false
}
