package queue

import "testing"

func TestRequeueOnFailure(t *testing.T) {
	if !requeueOnFailure(false) {
		t.Fatalf("первая неудача должна возвращать задачу в очередь")
	}
	if requeueOnFailure(true) {
		t.Fatalf("повторно доставленная задача не должна возвращаться в очередь")
	}
}
