package log

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetAndRestore(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	Set(l)
	defer Set(nil)

	WithFields(logrus.Fields{"check": "ar-magic"}).Info("archive is an ar archive")
	assert.Contains(t, buf.String(), `"check":"ar-magic"`)
	assert.Contains(t, buf.String(), "archive is an ar archive")

	Set(nil)
	buf.Reset()
	Infof("dropped %d", 1)
	assert.Empty(t, buf.String())
}

func TestSetWhileLogging(t *testing.T) {
	defer Set(nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				WithFields(logrus.Fields{"n": j}).Debug("tick")
				Infof("tick %d", j)
			}
		}()
	}
	for i := 0; i < 100; i++ {
		l := logrus.New()
		l.SetOutput(io.Discard)
		Set(l)
		assert.Equal(t, l, Get())
	}
	wg.Wait()
}
