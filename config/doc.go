// Package config loads researchmesh settings from a YAML file and the
// environment using spf13/viper.
//
// Every key can be overridden with an upper-cased, RESEARCHMESH_-prefixed
// variable (engine.max_rounds → RESEARCHMESH_ENGINE_MAX_ROUNDS). Provider
// credentials additionally honour their conventional names such as
// OPENAI_API_KEY and TAVILY_API_KEY.
package config
