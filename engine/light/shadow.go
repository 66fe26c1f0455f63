package light

// DefaultShadowMapSize is the edge length in texels of each cascade's depth texture.
const DefaultShadowMapSize = 1024

// DefaultCascadeLambda blends the cascade splits between uniform (0) and logarithmic (1).
const DefaultCascadeLambda float32 = 0.75

// DefaultAmbient is the ambient term of a new light.
const DefaultAmbient float32 = 0.25
