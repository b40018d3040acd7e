/*
 * Copyright 2023 ByteDance Inc.
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

package dexter

// Option is the property setter function for load-time options.
type Option func(*options)

type options struct {
    configPath   string
    configData   []byte
    inDex        string
    dexFiles     []string
    proguardMap  string
    noProguard   bool
    outDir       string
    overrides    map[string]interface{}
}

func defaultOptions() options {
    return options { overrides: make(map[string]interface{}) }
}

// WithConfig points at the JSON configuration file.
func WithConfig(path string) Option {
    return func(o *options) { o.configPath = path }
}

// WithConfigData supplies the JSON configuration inline instead of from
// a file. It wins over WithConfig.
func WithConfigData(data []byte) Option {
    return func(o *options) { o.configData = data }
}

// WithInDex names the directory whose *.dex files form the input, in
// lexical file order.
func WithInDex(dir string) Option {
    return func(o *options) { o.inDex = dir }
}

// WithDexFiles names the input DEX files explicitly, in the given order.
// Additive with WithInDex.
func WithDexFiles(paths ...string) Option {
    return func(o *options) { o.dexFiles = append(o.dexFiles, paths...) }
}

// WithProguardMap points at the obfuscation map used to restore original
// names. It overrides the proguard_map configuration key.
func WithProguardMap(path string) Option {
    return func(o *options) { o.proguardMap = path }
}

// WithNoProguardRules drops every scheduled pass that cannot run without
// keep rules.
func WithNoProguardRules() Option {
    return func(o *options) { o.noProguard = true }
}

// WithOption overrides one configuration key after the file is loaded,
// the way a CLI flag would.
func WithOption(key string, value interface{}) Option {
    return func(o *options) { o.overrides[key] = value }
}
