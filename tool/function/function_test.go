//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"trpc.group/trpc-go/trpc-agent-runtime/tool"
)

type addArgs struct {
	A int `json:"a" description:"first operand"`
	B int `json:"b"`
}

type addResult struct {
	Result int `json:"result"`
}

func TestFunctionTool(t *testing.T) {
	add := NewFunctionTool(func(_ context.Context, in addArgs) (addResult, error) {
		return addResult{Result: in.A + in.B}, nil
	}, WithName("add"), WithDescription("adds two numbers"))

	decl := add.Declaration()
	assert.Equal(t, "add", decl.Name)
	require.NotNil(t, decl.Parameters)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.ElementsMatch(t, []string{"a", "b"}, decl.Parameters.Required)
	assert.Equal(t, "first operand", decl.Parameters.Properties["a"].Description)
	assert.False(t, tool.IsLongRunning(add))

	out, err := add.Call(context.Background(), []byte(`{"a":2,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, addResult{Result: 4}, out)

	_, err = add.Call(context.Background(), []byte(`{"a":"x"}`))
	require.Error(t, err)
}

func TestFunctionToolError(t *testing.T) {
	boom := errors.New("boom")
	ft := NewFunctionTool(func(context.Context, struct{}) (any, error) {
		return nil, boom
	}, WithName("fail"))
	_, err := ft.Call(context.Background(), nil)
	require.ErrorIs(t, err, boom)
}

func TestLongRunningNilResult(t *testing.T) {
	ft := NewFunctionTool(func(context.Context, struct{}) (*addResult, error) {
		return nil, nil
	}, WithName("approve"), WithLongRunning(true))
	assert.True(t, tool.IsLongRunning(ft))
	out, err := ft.Call(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestStreamableFunctionTool(t *testing.T) {
	st := NewStreamableFunctionTool(func(_ context.Context, in addArgs) (*tool.StreamReader, error) {
		s := tool.NewStream(2)
		go func() {
			defer s.Writer.Close()
			for i := 0; i < in.A; i++ {
				s.Writer.Send(tool.StreamChunk{Content: i}, nil)
			}
		}()
		return s.Reader, nil
	}, WithName("count"))

	r, err := st.StreamableCall(context.Background(), []byte(`{"a":3,"b":0}`))
	require.NoError(t, err)
	var got []any
	for {
		chunk, err := r.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk.Content)
	}
	assert.Equal(t, []any{0, 1, 2}, got)
}
