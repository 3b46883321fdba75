package logctx

import (
	"context"
	"reflect"
	"simbridge/internal/global"
	"testing"
)

func assertTags(t *testing.T, ctx context.Context, want []string) {
	t.Helper()
	got := GetTagList(ctx)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tags mismatch: got=%v want=%v", got, want)
	}
}

func TestGetTagList(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want []string
	}{
		{"no value in context", context.Background(), []string{}},
		{"correct slice stored", context.WithValue(context.Background(), global.LogTagsKey, []string{"a", "b"}), []string{"a", "b"}},
		{"wrong type stored", context.WithValue(context.Background(), global.LogTagsKey, "nope"), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTags(t, tt.ctx, tt.want)
		})
	}
}

func TestTagCopyOnWrite(t *testing.T) {
	parent := AppendCtxTag(context.Background(), global.NSBridge)
	child := AppendCtxTag(parent, global.NSBroker)
	sibling := AppendCtxTag(parent, global.NSController)

	assertTags(t, parent, []string{global.NSBridge})
	assertTags(t, child, []string{global.NSBridge, global.NSBroker})
	assertTags(t, sibling, []string{global.NSBridge, global.NSController})

	popped := RemoveLastCtxTag(child)
	assertTags(t, popped, []string{global.NSBridge})
	assertTags(t, child, []string{global.NSBridge, global.NSBroker})

	empty := RemoveLastCtxTag(context.Background())
	assertTags(t, empty, []string{})

	list := []string{"x", "y"}
	over := OverwriteCtxTag(child, list)
	list[0] = "mutated"
	assertTags(t, over, []string{"x", "y"})
}
