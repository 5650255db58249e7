package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/imageapi"
)

// MockImageAPIClient is a mock type for the imageapi.Client type
type MockImageAPIClient struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, req
func (_m *MockImageAPIClient) Generate(ctx context.Context, req imageapi.Request) (imageapi.Response, error) {
	ret := _m.Called(ctx, req)

	var r0 imageapi.Response
	if rf, ok := ret.Get(0).(func(context.Context, imageapi.Request) imageapi.Response); ok {
		r0 = rf(ctx, req)
	} else {
		r0 = ret.Get(0).(imageapi.Response)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, imageapi.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockImageAPIClient creates a new instance of MockImageAPIClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockImageAPIClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockImageAPIClient {
	m := &MockImageAPIClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ imageapi.Client = (*MockImageAPIClient)(nil)
