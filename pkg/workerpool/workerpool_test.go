package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolCreation(t *testing.T) {
	config := &Config{
		InitialSize: 4,
		MinSize:     2,
		MaxSize:     8,
		QueueSize:   40,
	}

	pool := NewWorkerPool(config)
	defer pool.Close()

	if pool.Size() != 4 {
		t.Errorf("Expected pool size 4, got %d", pool.Size())
	}
}

func TestWorkerPoolSubmitTask(t *testing.T) {
	pool := NewWorkerPool(nil) // Use defaults
	defer pool.Close()

	var counter int32
	task := TaskFunc(func(ctx context.Context) error {
		atomic.AddInt32(&counter, 1)
		return nil
	})

	err := pool.Submit(task)
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	// Wait for task to execute
	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&counter) != 1 {
		t.Errorf("Expected counter=1, got %d", counter)
	}
}

func TestWorkerPoolResize(t *testing.T) {
	pool := NewWorkerPool(&Config{
		InitialSize: 4,
		MinSize:     2,
		MaxSize:     10,
		QueueSize:   40,
	})
	defer pool.Close()

	// Scale up
	if err := pool.Resize(8); err != nil {
		t.Fatalf("Failed to resize pool: %v", err)
	}
	if pool.Size() != 8 {
		t.Errorf("Expected pool size 8 after resize, got %d", pool.Size())
	}

	// Scale down
	if err := pool.Resize(3); err != nil {
		t.Fatalf("Failed to resize pool down: %v", err)
	}
	if pool.Size() != 3 {
		t.Errorf("Expected pool size 3 after resize, got %d", pool.Size())
	}

	// Try invalid sizes
	if err := pool.Resize(1); err == nil { // Below MinSize
		t.Error("Expected error when resizing below MinSize")
	}
	if err := pool.Resize(11); err == nil { // Above MaxSize
		t.Error("Expected error when resizing above MaxSize")
	}
}

func TestWorkerPoolClose(t *testing.T) {
	pool := NewWorkerPool(nil)

	for i := 0; i < 5; i++ {
		task := TaskFunc(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		pool.Submit(task)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Failed to close pool: %v", err)
	}

	task := TaskFunc(func(ctx context.Context) error { return nil })
	if err := pool.Submit(task); err != ErrPoolClosed {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestWorkerPoolQueueDepth(t *testing.T) {
	pool := NewWorkerPool(&Config{
		InitialSize: 1,
		MinSize:     1,
		MaxSize:     2,
		QueueSize:   10,
	})
	defer pool.Close()

	for i := 0; i < 5; i++ {
		task := TaskFunc(func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		})
		pool.Submit(task)
	}

	time.Sleep(10 * time.Millisecond)
	if depth := pool.QueueDepth(); depth == 0 {
		t.Log("Queue depth is 0, tasks may have been processed quickly")
	}
}
