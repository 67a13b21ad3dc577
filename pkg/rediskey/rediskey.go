package rediskey

import "fmt"

// Key prefixes shared by every dispatch process.
const (
	SequencePrefix          = "seq"
	TechnicianChannelPrefix = "notify:technician"
	CustomerChannelPrefix   = "notify:customer"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// Sequence returns "seq:{prefix}:{day}"
func Sequence(prefix, day string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s", prefix, day))
}

// TechnicianChannel returns "notify:technician:{technicianID}"
func TechnicianChannel(technicianID string) string {
	return NamespaceKey(TechnicianChannelPrefix, technicianID)
}

// CustomerChannel returns "notify:customer:{customerID}"
func CustomerChannel(customerID string) string {
	return NamespaceKey(CustomerChannelPrefix, customerID)
}
