package service

import (
	"Courier/internal/api/dto"
	"context"
	"testing"
)

func createConvReq(convType int8, memberIDs ...uint64) *dto.CreateConversationReq {
	return &dto.CreateConversationReq{Type: convType, Title: "t", MemberIDs: memberIDs}
}

func TestCreateConversationAddsCreator(t *testing.T) {
	conv := newFakeConvRepo()
	svc := NewConversationService(conv)

	res, err := svc.CreateConversation(context.Background(), 1, createConvReq(2, 2, 3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.MemberIDs) != 3 {
		t.Errorf("members = %v, want creator included", res.MemberIDs)
	}

	ok, _ := conv.IsMember(context.Background(), res.ID, 1)
	if !ok {
		t.Error("creator is not a member")
	}
}

func TestCreateDirectConversationNeedsTwoMembers(t *testing.T) {
	svc := NewConversationService(newFakeConvRepo())

	if _, err := svc.CreateConversation(context.Background(), 1, createConvReq(1, 2, 3)); err != ErrParamInvalid {
		t.Fatalf("err = %v, want ErrParamInvalid", err)
	}
	// 发起人重复出现在成员列表里也只算一人
	if _, err := svc.CreateConversation(context.Background(), 1, createConvReq(1, 1, 2)); err != nil {
		t.Fatalf("create direct: %v", err)
	}
}

func TestMemberIDsRequiresMembership(t *testing.T) {
	conv := newFakeConvRepo()
	conv.members[1] = []uint64{1, 2}
	svc := NewConversationService(conv)

	if _, err := svc.MemberIDs(context.Background(), 9, 1); err != ErrNotMember {
		t.Fatalf("err = %v, want ErrNotMember", err)
	}
	ids, err := svc.MemberIDs(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("member ids: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 members", ids)
	}
}
