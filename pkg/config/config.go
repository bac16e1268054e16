// Package config loads VoiceAgent manifests.
//
// A manifest is a Kubernetes-style YAML document:
//
//	apiVersion: fractflow.io/v1alpha1
//	kind: VoiceAgent
//	metadata:
//	  name: desk-assistant
//	spec:
//	  mode: manual
//	  realtime:
//	    voice: Chelsie
//
// Loading validates the raw document against an embedded JSON schema,
// decodes it, fills defaults for every omitted field, applies environment
// overrides for credentials and finally runs semantic validation. A
// VoiceAgentSpec then converts into the runtime configs for the realtime
// client, audio I/O, coordinator, monitor and tracing.
package config
