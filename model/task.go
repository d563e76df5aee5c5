/*
Copyright 2025 Silo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import "encoding/json"

// Migration task types. Webhook dispatch additionally uses
// integration-specific event names as the task type.
const (
	TaskInitiate  = "initiate"
	TaskTransform = "transform"
	TaskPush      = "push"
)

// TaskHeaders routes a queue message. Route selects the queue, JobID the
// migration run, Type the pipeline stage or webhook event name.
type TaskHeaders struct {
	Route string `json:"route"`
	JobID string `json:"jobId"`
	Type  string `json:"type"`
}

// TaskMessage is the envelope carried by every queue message.
type TaskMessage struct {
	Headers TaskHeaders     `json:"headers"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal encodes the envelope for the queue.
func (m *TaskMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalTaskMessage decodes a queue payload back into an envelope.
func UnmarshalTaskMessage(data []byte) (*TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// TransformPayload is the payload of a transform message: the batch produced
// during the pulling stage.
type TransformPayload struct {
	Batch Batch `json:"batch"`
}

// PushPayload is the payload of a push message: the destination-shaped
// entities produced by the transform stage for one batch.
type PushPayload struct {
	BatchID  string    `json:"batch_id"`
	Entities EntitySet `json:"entities"`
}
