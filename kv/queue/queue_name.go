package queue

import (
	"fmt"
	"strings"
)

const queueScheme = "queue://"

// QueueName identifies a queue as queue://<namespace>/<name>.
type QueueName struct {
	Namespace string
	Name      string
}

func NewQueueName(namespace, name string) (QueueName, error) {
	if namespace == "" || name == "" {
		return QueueName{}, fmt.Errorf("queue namespace and name must not be empty")
	}
	if strings.Contains(namespace, "/") {
		return QueueName{}, fmt.Errorf("queue namespace %q must not contain '/'", namespace)
	}
	return QueueName{Namespace: namespace, Name: name}, nil
}

// ParseQueueName parses the form produced by String.
func ParseQueueName(s string) (QueueName, error) {
	if !strings.HasPrefix(s, queueScheme) {
		return QueueName{}, fmt.Errorf("queue name %q lacks %s prefix", s, queueScheme)
	}
	parts := strings.SplitN(strings.TrimPrefix(s, queueScheme), "/", 2)
	if len(parts) != 2 {
		return QueueName{}, fmt.Errorf("queue name %q lacks a namespace", s)
	}
	return NewQueueName(parts[0], parts[1])
}

func (q QueueName) String() string {
	return queueScheme + q.Namespace + "/" + q.Name
}

// Bytes returns the identity carried in scan attributes and row keys.
func (q QueueName) Bytes() []byte {
	return []byte(q.String())
}
