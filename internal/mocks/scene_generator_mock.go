package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/scene"
	"storybook-server/internal/service"
)

// MockSceneGenerator is a mock type for the service.SceneGenerator type
type MockSceneGenerator struct {
	mock.Mock
}

// GenerateCompleteSceneImage provides a mock function with given fields: ctx, opts
func (_m *MockSceneGenerator) GenerateCompleteSceneImage(ctx context.Context, opts scene.Options) (scene.Result, error) {
	ret := _m.Called(ctx, opts)

	var r0 scene.Result
	if rf, ok := ret.Get(0).(func(context.Context, scene.Options) scene.Result); ok {
		r0 = rf(ctx, opts)
	} else {
		r0 = ret.Get(0).(scene.Result)
	}

	return r0, ret.Error(1)
}

// NewMockSceneGenerator creates a new instance of MockSceneGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockSceneGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSceneGenerator {
	m := &MockSceneGenerator{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ service.SceneGenerator = (*MockSceneGenerator)(nil)
