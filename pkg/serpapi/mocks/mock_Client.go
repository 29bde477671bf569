// Package mocks provides test doubles for the serpapi client.
package mocks

import (
	"context"

	serpapi "github.com/sells-group/serp-monitor/pkg/serpapi"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Search provides a mock function with given fields: ctx, query, location
func (_m *MockClient) Search(ctx context.Context, query string, location string) (*serpapi.SearchResponse, error) {
	ret := _m.Called(ctx, query, location)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	var r0 *serpapi.SearchResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (*serpapi.SearchResponse, error)); ok {
		return rf(ctx, query, location)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string) *serpapi.SearchResponse); ok {
		r0 = rf(ctx, query, location)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*serpapi.SearchResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, query, location)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
