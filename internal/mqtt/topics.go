package mqtt

import (
	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/source"
)

// QueueName returns the broker topic bridging one characteristic:
// {device}/{service}/{uuid}.
func QueueName(device, service, uuid string) string {
	return device + "/" + service + "/" + uuid
}

// QueueNames returns the queue for each binding, in order.
func QueueNames(device, service string, us []source.Updater) []string {
	out := make([]string, 0, len(us))
	for _, u := range us {
		out = append(out, QueueName(device, service, u.ID()))
	}
	return out
}

// FieldQueue returns the queue a control field is notified on.
func FieldQueue(device, service string, f control.FieldID) string {
	return QueueName(device, service, f.UUID())
}
