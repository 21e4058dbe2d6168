// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

// API keys used by the client.
const (
	APIKeyProduce      int16 = 0
	APIKeyMetadata     int16 = 3
	APIKeyApiVersion   int16 = 18
	APIKeyCreateTopics int16 = 19
	APIKeyDeleteTopics int16 = 20
)

// APIName returns a readable name for an API key, used as a metrics label.
func APIName(key int16) string {
	switch key {
	case APIKeyProduce:
		return "produce"
	case APIKeyMetadata:
		return "metadata"
	case APIKeyApiVersion:
		return "api_versions"
	case APIKeyCreateTopics:
		return "create_topics"
	case APIKeyDeleteTopics:
		return "delete_topics"
	default:
		return "unknown"
	}
}

// ApiVersion describes the supported version range for an API.
type ApiVersion struct {
	APIKey     int16
	MinVersion int16
	MaxVersion int16
}

func (v ApiVersion) Size() int { return 6 }

func (v ApiVersion) Encode(w *Writer) {
	w.Int16(v.APIKey)
	w.Int16(v.MinVersion)
	w.Int16(v.MaxVersion)
}

func readApiVersion(r *Reader) (ApiVersion, error) {
	var v ApiVersion
	var err error
	if v.APIKey, err = r.Int16(); err != nil {
		return v, err
	}
	if v.MinVersion, err = r.Int16(); err != nil {
		return v, err
	}
	if v.MaxVersion, err = r.Int16(); err != nil {
		return v, err
	}
	return v, nil
}

// ClientApiVersions lists the versions this client speaks.
func ClientApiVersions() []ApiVersion {
	return []ApiVersion{
		{APIKey: APIKeyProduce, MinVersion: 3, MaxVersion: 3},
		{APIKey: APIKeyMetadata, MinVersion: 0, MaxVersion: 0},
		{APIKey: APIKeyApiVersion, MinVersion: 0, MaxVersion: 0},
		{APIKey: APIKeyCreateTopics, MinVersion: 0, MaxVersion: 0},
		{APIKey: APIKeyDeleteTopics, MinVersion: 0, MaxVersion: 0},
	}
}
