package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Debug("hidden")
	l.WithField("action", "test").Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "action=test")

	buf.Reset()
	New(&buf, true).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestOrDiscard(t *testing.T) {
	l := logrus.New()
	assert.Same(t, l, OrDiscard(l))
	assert.NotNil(t, OrDiscard(nil))
	OrDiscard(nil).WithField("action", "test").Info("dropped")
}
