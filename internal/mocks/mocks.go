package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gathering-service/internal/gathering"
	"gathering-service/internal/models"
)

type GatheringServiceMock struct {
	mock.Mock
}

func gatheringArg(args mock.Arguments) models.Gathering {
	var g models.Gathering
	if val := args.Get(0); val != nil {
		g = val.(models.Gathering)
	}
	return g
}

func gatheringsArg(args mock.Arguments) []models.Gathering {
	var list []models.Gathering
	if val := args.Get(0); val != nil {
		list = val.([]models.Gathering)
	}
	return list
}

func (m *GatheringServiceMock) Create(ctx context.Context, actor gathering.Actor, in gathering.CreateInput) (models.Gathering, error) {
	args := m.Called(ctx, actor, in)
	return gatheringArg(args), args.Error(1)
}

func (m *GatheringServiceMock) Get(ctx context.Context, gatheringID int) (models.Gathering, error) {
	args := m.Called(ctx, gatheringID)
	return gatheringArg(args), args.Error(1)
}

func (m *GatheringServiceMock) ListBrowse(ctx context.Context, kind models.GatheringType, university string) ([]models.Gathering, error) {
	args := m.Called(ctx, kind, university)
	return gatheringsArg(args), args.Error(1)
}

func (m *GatheringServiceMock) ListMine(ctx context.Context, userID int) ([]models.Gathering, error) {
	args := m.Called(ctx, userID)
	return gatheringsArg(args), args.Error(1)
}

func (m *GatheringServiceMock) Join(ctx context.Context, gatheringID int, actor gathering.Actor) (models.Gathering, error) {
	args := m.Called(ctx, gatheringID, actor)
	return gatheringArg(args), args.Error(1)
}

func (m *GatheringServiceMock) Leave(ctx context.Context, gatheringID int, actor gathering.Actor) (models.Gathering, error) {
	args := m.Called(ctx, gatheringID, actor)
	return gatheringArg(args), args.Error(1)
}

func (m *GatheringServiceMock) Kick(ctx context.Context, gatheringID int, requester gathering.Actor, targetID int) (models.Gathering, error) {
	args := m.Called(ctx, gatheringID, requester, targetID)
	return gatheringArg(args), args.Error(1)
}

func (m *GatheringServiceMock) Delete(ctx context.Context, gatheringID int, actor gathering.Actor) (string, error) {
	args := m.Called(ctx, gatheringID, actor)
	return args.String(0), args.Error(1)
}

func (m *GatheringServiceMock) AcknowledgeKick(ctx context.Context, gatheringID, userID int) error {
	args := m.Called(ctx, gatheringID, userID)
	return args.Error(0)
}

func (m *GatheringServiceMock) AcknowledgeDelete(ctx context.Context, gatheringID, userID int) error {
	args := m.Called(ctx, gatheringID, userID)
	return args.Error(0)
}

func (m *GatheringServiceMock) Read(ctx context.Context, gatheringID, requesterID int) ([]models.Message, error) {
	args := m.Called(ctx, gatheringID, requesterID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *GatheringServiceMock) Append(ctx context.Context, gatheringID, senderID int, text string) (models.Message, error) {
	args := m.Called(ctx, gatheringID, senderID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) Nicknames(ctx context.Context, ids []int) (map[int]string, error) {
	args := m.Called(ctx, ids)
	var out map[int]string
	if val := args.Get(0); val != nil {
		out = val.(map[int]string)
	}
	return out, args.Error(1)
}
