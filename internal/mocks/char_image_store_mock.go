package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/charimage"
)

// MockCharImageStore is a mock type for the charimage.Store type
type MockCharImageStore struct {
	mock.Mock
}

// Get provides a mock function with given fields: ctx, storageKey, characterName, imageID
func (_m *MockCharImageStore) Get(ctx context.Context, storageKey string, characterName string, imageID string) ([]byte, error) {
	ret := _m.Called(ctx, storageKey, characterName, imageID)

	var r0 []byte
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) []byte); ok {
		r0 = rf(ctx, storageKey, characterName, imageID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]byte)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string, string) error); ok {
		r1 = rf(ctx, storageKey, characterName, imageID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Put provides a mock function with given fields: ctx, storageKey, characterName, imageID, data
func (_m *MockCharImageStore) Put(ctx context.Context, storageKey string, characterName string, imageID string, data []byte) error {
	ret := _m.Called(ctx, storageKey, characterName, imageID, data)
	return ret.Error(0)
}

// NewMockCharImageStore creates a new instance of MockCharImageStore. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockCharImageStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCharImageStore {
	m := &MockCharImageStore{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ charimage.Store = (*MockCharImageStore)(nil)
