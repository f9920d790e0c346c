package core

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestNewIDIndex(t *testing.T) {
	tests := []struct {
		name    string
		ids     []int64
		wantIDs []int64
		wantErr bool
	}{
		{name: "sorts ascending", ids: []int64{11, 10, 42}, wantIDs: []int64{10, 11, 42}},
		{name: "empty", ids: nil, wantIDs: []int64{}},
		{name: "duplicate rejected", ids: []int64{3, 1, 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := NewIDIndex(tt.ids)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidBundle) {
					t.Fatalf("err = %v, want ErrInvalidBundle", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := x.IDs(); !reflect.DeepEqual(got, tt.wantIDs) {
				t.Errorf("IDs() = %v, want %v", got, tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				idx, ok := x.Index(id)
				if !ok || idx != i {
					t.Errorf("Index(%d) = %d,%v, want %d,true", id, idx, ok, i)
				}
				back, ok := x.ID(i)
				if !ok || back != id {
					t.Errorf("ID(%d) = %d,%v, want %d,true", i, back, ok, id)
				}
			}
		})
	}
}

func TestIDIndex_OutOfModel(t *testing.T) {
	x, err := NewIDIndex([]int64{10, 11})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := x.Index(999); ok {
		t.Error("Index(999) should be out of model")
	}
	if _, ok := x.ID(2); ok {
		t.Error("ID(2) should be out of range")
	}
	if _, ok := x.ID(-1); ok {
		t.Error("ID(-1) should be out of range")
	}

	var nilIndex *IDIndex
	if nilIndex.Len() != 0 {
		t.Error("nil index should have zero length")
	}
}

func TestNewInteractionMatrix(t *testing.T) {
	m, err := NewInteractionMatrix(2, 5, []Interaction{
		{User: 0, Item: 4, Weight: 1},
		{User: 0, Item: 2, Weight: 1},
		{User: 0, Item: 4, Weight: 2},
		{User: 1, Item: 0, Weight: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if m.NNZ() != 3 {
		t.Errorf("NNZ() = %d, want 3", m.NNZ())
	}

	row := m.Row(0)
	if !reflect.DeepEqual(row.Items, []int{2, 4}) {
		t.Errorf("row 0 items = %v, want [2 4]", row.Items)
	}
	if !reflect.DeepEqual(row.Weights, []float32{1, 3}) {
		t.Errorf("row 0 weights = %v, want [1 3]", row.Weights)
	}
	if !row.Contains(4) || row.Contains(3) {
		t.Error("Contains mismatch on row 0")
	}
	if m.Row(7).Len() != 0 {
		t.Error("out of range row should be empty")
	}
}

func TestNewInteractionMatrix_OutOfShape(t *testing.T) {
	_, err := NewInteractionMatrix(1, 1, []Interaction{{User: 0, Item: 1, Weight: 1}})
	if !errors.Is(err, ErrInvalidBundle) {
		t.Fatalf("err = %v, want ErrInvalidBundle", err)
	}
}

func TestInteractionMatrix_Validate(t *testing.T) {
	tests := []struct {
		name string
		m    *InteractionMatrix
	}{
		{name: "nil", m: nil},
		{name: "short indptr", m: &InteractionMatrix{NumRows: 2, NumCols: 1, IndPtr: []int{0, 0}}},
		{name: "column out of range", m: &InteractionMatrix{NumRows: 1, NumCols: 1, IndPtr: []int{0, 1}, Indices: []int{3}, Data: []float32{1}}},
		{name: "unsorted columns", m: &InteractionMatrix{NumRows: 1, NumCols: 3, IndPtr: []int{0, 2}, Indices: []int{2, 1}, Data: []float32{1, 1}}},
		{name: "indptr overflow", m: &InteractionMatrix{NumRows: 2, NumCols: 3, IndPtr: []int{0, 5, 1}, Indices: []int{0}, Data: []float32{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.m.Validate(); !errors.Is(err, ErrInvalidBundle) {
				t.Errorf("Validate() = %v, want ErrInvalidBundle", err)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	wrapped := fmt.Errorf("recommend user 7: %w", ErrInvalidCount)

	if !errors.Is(wrapped, ErrInvalidCount) {
		t.Error("wrapped ErrInvalidCount should match")
	}
	if errors.Is(wrapped, ErrInvalidUserID) {
		t.Error("ErrInvalidCount should not match ErrInvalidUserID")
	}
	if !IsInvalidInput(wrapped) {
		t.Error("IsInvalidInput should see through wrapping")
	}
	if IsNotLoaded(wrapped) {
		t.Error("IsNotLoaded should be false")
	}
	if !IsStoreNotFound(fmt.Errorf("get: %w", ErrStoreNotFound)) {
		t.Error("IsStoreNotFound should see through wrapping")
	}
	if IsDomainError(errors.New("plain")) {
		t.Error("plain error is not a DomainError")
	}
}
