package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/michalmalinowski87/photovault/internal/server/models"
)

// one-shot "at" expressions take local-free wall time in UTC
const atExpressionLayout = "2006-01-02T15:04:05"

// schedulerAPI is the subset of the EventBridge Scheduler SDK we call.
type schedulerAPI interface {
	CreateSchedule(ctx context.Context, in *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, in *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, in *scheduler.DeleteScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error)
}

// EventBridgeClient implements Client on AWS EventBridge Scheduler.
type EventBridgeClient struct {
	api   schedulerAPI
	group string
}

func NewEventBridgeClient(api *scheduler.Client, group string) *EventBridgeClient {
	return &EventBridgeClient{api: api, group: group}
}

func (c *EventBridgeClient) Create(ctx context.Context, entry *models.ScheduleEntry) error {

	_, err := c.api.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:               aws.String(entry.Name),
		GroupName:          c.groupName(),
		ScheduleExpression: aws.String(atExpression(entry)),
		FlexibleTimeWindow: &types.FlexibleTimeWindow{
			Mode: types.FlexibleTimeWindowModeOff,
		},
		Target: target(entry),
	})
	if err != nil {
		return mapError(err)
	}

	return nil
}

func (c *EventBridgeClient) Update(ctx context.Context, entry *models.ScheduleEntry) error {

	_, err := c.api.UpdateSchedule(ctx, &scheduler.UpdateScheduleInput{
		Name:               aws.String(entry.Name),
		GroupName:          c.groupName(),
		ScheduleExpression: aws.String(atExpression(entry)),
		FlexibleTimeWindow: &types.FlexibleTimeWindow{
			Mode: types.FlexibleTimeWindowModeOff,
		},
		Target: target(entry),
	})
	if err != nil {
		return mapError(err)
	}

	return nil
}

func (c *EventBridgeClient) Delete(ctx context.Context, name string) error {

	_, err := c.api.DeleteSchedule(ctx, &scheduler.DeleteScheduleInput{
		Name:      aws.String(name),
		GroupName: c.groupName(),
	})
	if err != nil {
		return mapError(err)
	}

	return nil
}

func (c *EventBridgeClient) groupName() *string {
	if c.group == "" {
		return nil
	}
	return aws.String(c.group)
}

func atExpression(entry *models.ScheduleEntry) string {
	return fmt.Sprintf("at(%s)", entry.FireAt.UTC().Format(atExpressionLayout))
}

func target(entry *models.ScheduleEntry) *types.Target {
	t := &types.Target{
		Arn:     aws.String(entry.TargetRef),
		RoleArn: aws.String(entry.RoleRef),
		Input:   aws.String(string(entry.Payload)),
	}
	if entry.DeadLetterRef != "" {
		t.DeadLetterConfig = &types.DeadLetterConfig{
			Arn: aws.String(entry.DeadLetterRef),
		}
	}
	return t
}

func mapError(err error) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, aws.ToString(notFound.Message))
	}

	var conflict *types.ConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, aws.ToString(conflict.Message))
	}

	return err
}
