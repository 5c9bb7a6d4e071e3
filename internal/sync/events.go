package sync

import (
	"context"

	"github.com/gofrs/uuid"
)

type auditEvent map[string]interface{}

type EventsConfig struct {
	Enabled   bool
	AccountId int
	EventType string
}

func (s *Syncer) newAuditEvent(
	uuid uuid.UUID,
	kind string,
	action string,
	result *SyncPassResult,
) auditEvent {
	event := auditEvent{}

	event["eventType"] = s.eventsConfig.EventType
	event["id"] = uuid.String()
	event["integration"] = s.config.Integration
	event["kind"] = kind
	event["action"] = action

	if result == nil {
		return event
	}

	event["error"] = result.Err != nil
	if result.Err != nil {
		event["errorMessage"] = result.Err.Error()
	}

	event["durationMs"] = result.End.Sub(result.Start).Milliseconds()
	event["objectsSeen"] = result.ObjectsSeen
	event["entitiesProduced"] = result.EntitiesProduced
	event["objectsSkipped"] = result.ObjectsSkippedBySelector
	event["selectorErrors"] = result.SelectorErrors
	event["mappingFailures"] = len(result.MappingFailures)
	event["fieldFailures"] = len(result.FieldFailures)
	event["conflicts"] = len(result.Conflicts)

	if o := result.Outcome; o != nil {
		event["created"] = len(o.Created)
		event["updated"] = len(o.Updated)
		event["deleted"] = len(o.Deleted)
		event["unchanged"] = len(o.Unchanged)
		event["patched"] = len(o.Patched)
		event["operationFailures"] = len(o.Failures)
		event["deletesSkipped"] = o.DeletesSkipped
	}

	return event
}

func (s *Syncer) pushEvent(ctx context.Context, event auditEvent) {
	if !s.eventsConfig.Enabled || s.i.NrClient == nil {
		return
	}

	s.log.Tracef("pushing %s audit event", event["action"])

	if err := s.i.NrClient.Events.CreateEventWithContext(
		ctx,
		s.eventsConfig.AccountId,
		event,
	); err != nil {
		s.log.Warnf("failed to push event: %s", err)
	}
}
