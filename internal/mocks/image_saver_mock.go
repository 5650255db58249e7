package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/service"
)

// MockImageSaver is a mock type for the service.ImageSaver type
type MockImageSaver struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, ref, imageURL
func (_m *MockImageSaver) Save(ctx context.Context, ref string, imageURL string) (string, error) {
	ret := _m.Called(ctx, ref, imageURL)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, string) string); ok {
		r0 = rf(ctx, ref, imageURL)
	} else {
		r0 = ret.String(0)
	}

	return r0, ret.Error(1)
}

// NewMockImageSaver creates a new instance of MockImageSaver. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockImageSaver(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockImageSaver {
	m := &MockImageSaver{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ service.ImageSaver = (*MockImageSaver)(nil)
