/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

// ModelTag names one peripheral model from the closed set of known models.
type ModelTag string

const (
	ModelAG410     ModelTag = "AG410"
	ModelWM160     ModelTag = "WM160"
	ModelLogicLink ModelTag = "com.dji.logiclink"
	ModelRM330     ModelTag = "RM330"
	ModelDJIRC     ModelTag = "DJI RC"
	// ModelGeneric marks a peripheral recognized by its vendor whose model is
	// not in the table.
	ModelGeneric ModelTag = "Generic"
)

// KnownModels lists the model tags in matching priority order.
func KnownModels() []ModelTag {
	return []ModelTag{ModelAG410, ModelWM160, ModelLogicLink, ModelRM330, ModelDJIRC}
}

// MatchRule identifies which classifier rule produced a classification.
type MatchRule string

const (
	RuleNone         MatchRule = ""
	RuleModel        MatchRule = "model"
	RuleLinkProtocol MatchRule = "link_protocol"
	RuleManufacturer MatchRule = "manufacturer"
	RuleVendorID     MatchRule = "vendor_id"
)

// Classification is the result of running a descriptor through the classifier.
// The zero value is Unrecognized.
type Classification struct {
	Recognized bool      `json:"recognized"`
	Model      ModelTag  `json:"model,omitempty"`
	Rule       MatchRule `json:"rule,omitempty"`
}

// Unrecognized is the classification of a device that matched no rule.
var Unrecognized = Classification{}

// Recognized returns a positive classification for model via rule.
func Recognized(model ModelTag, rule MatchRule) Classification {
	return Classification{Recognized: true, Model: model, Rule: rule}
}

func (c Classification) String() string {
	if !c.Recognized {
		return "unrecognized"
	}

	return "recognized(" + string(c.Model) + ")"
}
