package nfc

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanReader chan string

func (c chanReader) ReadTag(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case tag := <-c:
		return tag, nil
	}
}

func TestScannerReadsOneTag(t *testing.T) {
	reader := make(chanReader, 1)
	scanner := NewScanner(reader)

	task, err := scanner.Start(context.Background())
	require.NoError(t, err)
	reader <- " 04:A2:19:7F "

	tag, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "04:A2:19:7F", tag)
	assert.Eventually(t, func() bool { return !scanner.Busy() }, time.Second, 5*time.Millisecond)
}

func TestScannerRefusesSecondTask(t *testing.T) {
	scanner := NewScanner(make(chanReader))

	task, err := scanner.Start(context.Background())
	require.NoError(t, err)
	defer task.Cancel()

	_, err = scanner.Start(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestCancelFreesReader(t *testing.T) {
	scanner := NewScanner(make(chanReader))

	task, err := scanner.Start(context.Background())
	require.NoError(t, err)
	task.Cancel()
	task.Cancel()

	_, err = task.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)

	<-task.Done()
	assert.Eventually(t, func() bool { return !scanner.Busy() }, time.Second, 5*time.Millisecond)
	next, err := scanner.Start(context.Background())
	require.NoError(t, err)
	next.Cancel()
}

func TestWaitTimeoutLeavesTaskRunning(t *testing.T) {
	reader := make(chanReader, 1)
	scanner := NewScanner(reader)
	task, err := scanner.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = task.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, scanner.Busy())

	reader <- "tag-1"
	tag, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tag-1", tag)
}

func TestBlankTagsAreSkipped(t *testing.T) {
	reader := make(chanReader, 2)
	reader <- "   "
	reader <- "tag-2"
	task, err := NewScanner(reader).Start(context.Background())
	require.NoError(t, err)

	tag, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tag-2", tag)
}

func TestLineReader(t *testing.T) {
	reader := NewLineReader(strings.NewReader("0042\n0043\n"))

	tag, err := reader.ReadTag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0042", tag)
	tag, err = reader.ReadTag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0043", tag)
	_, err = reader.ReadTag(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
