// File: internal/controlplane/awscp/stacks.go
// Brief: CloudFormation-backed StackService.

package awscp

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/userhub/opsctl/internal/controlplane"
)

// Stacks implements controlplane.StackService on CloudFormation.
type Stacks struct {
	client       *cloudformation.Client
	previewPoll  time.Duration
	previewLimit time.Duration
}

// NewStacks wraps a CloudFormation client.
func NewStacks(client *cloudformation.Client) *Stacks {
	return &Stacks{
		client:       client,
		previewPoll:  2 * time.Second,
		previewLimit: 5 * time.Minute,
	}
}

func (s *Stacks) Describe(ctx context.Context, name string) (*controlplane.StackSummary, error) {
	out, err := s.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(name),
	})
	if err != nil {
		if isStackMissing(err) {
			return nil, controlplane.ErrStackNotFound
		}
		return nil, classify(fmt.Sprintf("describe stack %s", name), err)
	}
	if len(out.Stacks) == 0 {
		return nil, controlplane.ErrStackNotFound
	}
	stack := out.Stacks[0]
	summary := &controlplane.StackSummary{
		Name:         strOrEmpty(stack.StackName),
		Status:       statusFromCFN(stack.StackStatus),
		StatusReason: strOrEmpty(stack.StackStatusReason),
		LastChangeID: strOrEmpty(stack.ChangeSetId),
		Parameters:   make(map[string]string, len(stack.Parameters)),
		Outputs:      make(map[string]string, len(stack.Outputs)),
	}
	for _, p := range stack.Parameters {
		summary.Parameters[strOrEmpty(p.ParameterKey)] = strOrEmpty(p.ParameterValue)
	}
	for _, o := range stack.Outputs {
		summary.Outputs[strOrEmpty(o.OutputKey)] = strOrEmpty(o.OutputValue)
	}
	return summary, nil
}

func (s *Stacks) Create(ctx context.Context, spec controlplane.StackSpec) (string, error) {
	input := &cloudformation.CreateStackInput{
		StackName:    aws.String(spec.Name),
		Parameters:   cfnParameters(spec.Parameters),
		Capabilities: cfnCapabilities(spec.Capabilities),
	}
	if err := setTemplate(&input.TemplateBody, &input.TemplateURL, spec.TemplateRef); err != nil {
		return "", err
	}
	out, err := s.client.CreateStack(ctx, input)
	if err != nil {
		return "", classify(fmt.Sprintf("create stack %s", spec.Name), err)
	}
	return strOrEmpty(out.StackId), nil
}

func (s *Stacks) Update(ctx context.Context, spec controlplane.StackSpec) (string, error) {
	input := &cloudformation.UpdateStackInput{
		StackName:    aws.String(spec.Name),
		Parameters:   cfnParameters(spec.Parameters),
		Capabilities: cfnCapabilities(spec.Capabilities),
	}
	if err := setTemplate(&input.TemplateBody, &input.TemplateURL, spec.TemplateRef); err != nil {
		return "", err
	}
	out, err := s.client.UpdateStack(ctx, input)
	if err != nil {
		if isNoUpdates(err) {
			return "", controlplane.ErrNoChanges
		}
		return "", classify(fmt.Sprintf("update stack %s", spec.Name), err)
	}
	return strOrEmpty(out.StackId), nil
}

func (s *Stacks) Events(ctx context.Context, name string, since time.Time) ([]controlplane.StackEvent, error) {
	out, err := s.client.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(name),
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("describe events for %s", name), err)
	}
	var events []controlplane.StackEvent
	for _, ev := range out.StackEvents {
		if ev.Timestamp == nil || !ev.Timestamp.After(since) {
			continue
		}
		events = append(events, controlplane.StackEvent{
			Timestamp:    *ev.Timestamp,
			LogicalID:    strOrEmpty(ev.LogicalResourceId),
			ResourceType: strOrEmpty(ev.ResourceType),
			Status:       string(ev.ResourceStatus),
			Reason:       strOrEmpty(ev.ResourceStatusReason),
		})
	}
	// CloudFormation returns newest first; callers expect oldest first.
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (s *Stacks) PreviewChange(ctx context.Context, spec controlplane.StackSpec) (*controlplane.ChangeSet, error) {
	name := fmt.Sprintf("opsctl-%s", uuid.NewString())
	input := &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(spec.Name),
		ChangeSetName: aws.String(name),
		ChangeSetType: cfntypes.ChangeSetTypeUpdate,
		Parameters:    cfnParameters(spec.Parameters),
		Capabilities:  cfnCapabilities(spec.Capabilities),
	}
	if err := setTemplate(&input.TemplateBody, &input.TemplateURL, spec.TemplateRef); err != nil {
		return nil, err
	}
	created, err := s.client.CreateChangeSet(ctx, input)
	if err != nil {
		return nil, classify(fmt.Sprintf("create change set for %s", spec.Name), err)
	}

	cs := &controlplane.ChangeSet{ID: strOrEmpty(created.Id), StackName: spec.Name}
	deadline := time.Now().Add(s.previewLimit)
	for {
		desc, err := s.client.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
			ChangeSetName: created.Id,
			StackName:     aws.String(spec.Name),
		})
		if err != nil {
			return nil, classify(fmt.Sprintf("describe change set for %s", spec.Name), err)
		}
		switch desc.Status {
		case cfntypes.ChangeSetStatusCreateComplete:
			for _, change := range desc.Changes {
				rc := change.ResourceChange
				if rc == nil {
					continue
				}
				cs.Changes = append(cs.Changes, controlplane.ResourceChange{
					Action:       changeAction(rc),
					LogicalID:    strOrEmpty(rc.LogicalResourceId),
					ResourceType: strOrEmpty(rc.ResourceType),
				})
			}
			cs.NoChanges = len(cs.Changes) == 0
			return cs, nil
		case cfntypes.ChangeSetStatusFailed:
			reason := strOrEmpty(desc.StatusReason)
			if containsFold(reason, "didn't contain changes") || containsFold(reason, "no updates are to be performed") {
				cs.NoChanges = true
				return cs, nil
			}
			return nil, errors.Errorf("change set for %s failed: %s", spec.Name, reason)
		}
		if time.Now().After(deadline) {
			return nil, errors.Errorf("change set for %s not ready after %s", spec.Name, s.previewLimit)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.previewPoll):
		}
	}
}

func (s *Stacks) DiscardPreview(ctx context.Context, stackName, changeSetID string) error {
	_, err := s.client.DeleteChangeSet(ctx, &cloudformation.DeleteChangeSetInput{
		ChangeSetName: aws.String(changeSetID),
		StackName:     aws.String(stackName),
	})
	if err != nil {
		return classify(fmt.Sprintf("delete change set for %s", stackName), err)
	}
	return nil
}

func changeAction(rc *cfntypes.ResourceChange) controlplane.ChangeAction {
	if rc.Replacement == cfntypes.ReplacementTrue {
		return controlplane.ChangeReplace
	}
	switch rc.Action {
	case cfntypes.ChangeActionAdd:
		return controlplane.ChangeAdd
	case cfntypes.ChangeActionRemove:
		return controlplane.ChangeRemove
	default:
		return controlplane.ChangeModify
	}
}

func statusFromCFN(status cfntypes.StackStatus) controlplane.StackStatus {
	name := string(status)
	switch {
	case status == cfntypes.StackStatusCreateComplete || status == cfntypes.StackStatusUpdateComplete:
		return controlplane.StackAvailable
	case status == cfntypes.StackStatusCreateInProgress || status == cfntypes.StackStatusReviewInProgress:
		return controlplane.StackCreating
	case status == cfntypes.StackStatusUpdateInProgress || status == cfntypes.StackStatusUpdateCompleteCleanupInProgress:
		return controlplane.StackUpdating
	case strings.Contains(name, "ROLLBACK") && strings.HasSuffix(name, "IN_PROGRESS"):
		return controlplane.StackRollingBack
	case strings.HasSuffix(name, "FAILED") || strings.HasSuffix(name, "ROLLBACK_COMPLETE"):
		return controlplane.StackFailed
	case strings.HasPrefix(name, "DELETE"):
		return controlplane.StackAbsent
	default:
		return controlplane.StackUpdating
	}
}

func cfnParameters(params map[string]string) []cfntypes.Parameter {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cfntypes.Parameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, cfntypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(params[k]),
		})
	}
	return out
}

func cfnCapabilities(caps []string) []cfntypes.Capability {
	out := make([]cfntypes.Capability, 0, len(caps))
	for _, c := range caps {
		out = append(out, cfntypes.Capability(c))
	}
	return out
}

// setTemplate points the request at the template: URLs pass through, local
// paths are inlined as the body.
func setTemplate(body, url **string, ref string) error {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		*url = aws.String(ref)
		return nil
	}
	raw, err := os.ReadFile(ref)
	if err != nil {
		return errors.Wrapf(err, "read template %s", ref)
	}
	*body = aws.String(string(raw))
	return nil
}

func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && containsFold(apiErr.ErrorMessage(), "does not exist")
}

func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return containsFold(apiErr.ErrorMessage(), "no updates are to be performed")
}
